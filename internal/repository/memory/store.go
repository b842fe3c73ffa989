// Package memory is an in-process repository used by tests and by the
// "memory" storage mode of the API. A transaction runs against a snapshot
// and is validated at commit: a row written or locked by a transaction that
// committed since the snapshot fails with ErrStale, and a contract colliding
// with a committed one fails with ErrDuplicate.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"contractsvc/internal/model"
	"contractsvc/internal/repository"
)

// Event is an outbox event captured by the memory store.
type Event struct {
	AggregateType string
	AggregateID   int64
	RoutingKey    string
	Payload       json.RawMessage
}

type rowKind int

const (
	rowJob rowKind = iota
	rowProposal
	rowJobMilestone
	rowProposalMilestone
	rowContract
	rowMilestone
)

type rowKey struct {
	kind rowKind
	id   int64
}

type state struct {
	jobs               map[int64]model.Job
	proposals          map[int64]model.Proposal
	jobMilestones      map[int64]model.JobMilestone
	proposalMilestones map[int64]model.ProposalMilestone
	contracts          map[int64]model.Contract
	milestones         map[int64]model.ContractMilestone
	events             []Event
	versions           map[rowKey]uint64
	// id 序列跨快照共享，并发事务不会分配到相同 id
	seq *int64
}

func newState() *state {
	seq := int64(1000)
	return &state{
		jobs:               make(map[int64]model.Job),
		proposals:          make(map[int64]model.Proposal),
		jobMilestones:      make(map[int64]model.JobMilestone),
		proposalMilestones: make(map[int64]model.ProposalMilestone),
		contracts:          make(map[int64]model.Contract),
		milestones:         make(map[int64]model.ContractMilestone),
		versions:           make(map[rowKey]uint64),
		seq:                &seq,
	}
}

func (s *state) clone() *state {
	c := &state{
		jobs:               make(map[int64]model.Job, len(s.jobs)),
		proposals:          make(map[int64]model.Proposal, len(s.proposals)),
		jobMilestones:      make(map[int64]model.JobMilestone, len(s.jobMilestones)),
		proposalMilestones: make(map[int64]model.ProposalMilestone, len(s.proposalMilestones)),
		contracts:          make(map[int64]model.Contract, len(s.contracts)),
		milestones:         make(map[int64]model.ContractMilestone, len(s.milestones)),
		events:             append([]Event(nil), s.events...),
		versions:           make(map[rowKey]uint64, len(s.versions)),
		seq:                s.seq,
	}
	for k, v := range s.versions {
		c.versions[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.proposals {
		c.proposals[k] = v
	}
	for k, v := range s.jobMilestones {
		c.jobMilestones[k] = v
	}
	for k, v := range s.proposalMilestones {
		c.proposalMilestones[k] = v
	}
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.milestones {
		c.milestones[k] = v
	}
	return c
}

func (s *state) id() int64 {
	return atomic.AddInt64(s.seq, 1)
}

// Store implements repository.UnitOfWork in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithinTx implements repository.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	work := s.state.clone()
	s.mu.Unlock()

	tx := &memTx{s: work, now: s.now, touched: make(map[rowKey]struct{}), baseEvents: len(work.events)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(tx)
}

// commit validates tx against the committed state, then copies the rows it
// touched. Nothing is applied when validation fails.
func (s *Store) commit(tx *memTx) error {
	// 等价于 contracts(job_id) / contracts(proposal_id) 唯一索引
	for k := range tx.touched {
		if k.kind != rowContract {
			continue
		}
		if _, committed := s.state.contracts[k.id]; committed {
			continue
		}
		c := tx.s.contracts[k.id]
		for _, cur := range s.state.contracts {
			if cur.JobID == c.JobID || cur.ProposalID == c.ProposalID {
				return repository.ErrDuplicate
			}
		}
	}
	for k := range tx.touched {
		if s.state.versions[k] != tx.s.versions[k] {
			return repository.ErrStale
		}
	}

	for k := range tx.touched {
		s.state.versions[k]++
		switch k.kind {
		case rowJob:
			s.state.jobs[k.id] = tx.s.jobs[k.id]
		case rowProposal:
			s.state.proposals[k.id] = tx.s.proposals[k.id]
		case rowJobMilestone:
			s.state.jobMilestones[k.id] = tx.s.jobMilestones[k.id]
		case rowProposalMilestone:
			s.state.proposalMilestones[k.id] = tx.s.proposalMilestones[k.id]
		case rowContract:
			s.state.contracts[k.id] = tx.s.contracts[k.id]
		case rowMilestone:
			s.state.milestones[k.id] = tx.s.milestones[k.id]
		}
	}
	s.state.events = append(s.state.events, tx.s.events[tx.baseEvents:]...)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// SeedJob stores j as-is, keeping its id. Used to stand in for the job CRUD layer.
func (s *Store) SeedJob(j model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.jobs[j.ID] = j
}

// SeedProposal stores p as-is, keeping its id.
func (s *Store) SeedProposal(p model.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.proposals[p.ID] = p
}

// SeedProposalMilestone stores m as-is, keeping its id.
func (s *Store) SeedProposalMilestone(m model.ProposalMilestone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.proposalMilestones[m.ID] = m
}

// Job returns the committed job.
func (s *Store) Job(id int64) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.state.jobs[id]
	return j, ok
}

// Proposal returns the committed proposal.
func (s *Store) Proposal(id int64) (model.Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.proposals[id]
	return p, ok
}

// ContractCount returns the number of committed contracts.
func (s *Store) ContractCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.contracts)
}

// MilestoneCount returns the number of committed contract milestones.
func (s *Store) MilestoneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.milestones)
}

// Events returns the committed outbox events in emission order.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.state.events...)
}

type memTx struct {
	s   *state
	now func() time.Time
	// 写过或加锁读过的行，提交时校验版本
	touched    map[rowKey]struct{}
	baseEvents int
}

func (t *memTx) touch(kind rowKind, id int64) {
	t.touched[rowKey{kind, id}] = struct{}{}
}

func (t *memTx) Jobs() repository.JobStore           { return t }
func (t *memTx) Proposals() repository.ProposalStore { return t }
func (t *memTx) Templates() repository.TemplateStore { return t }
func (t *memTx) Contracts() repository.ContractStore { return t }
func (t *memTx) Events() repository.EventSink        { return t }

func (t *memTx) GetJob(_ context.Context, id int64) (*model.Job, error) {
	j, ok := t.s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &j, nil
}

func (t *memTx) SaveJob(_ context.Context, job *model.Job) error {
	cur, ok := t.s.jobs[job.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = job.Status
	cur.UpdatedAt = t.now()
	job.UpdatedAt = cur.UpdatedAt
	t.s.jobs[job.ID] = cur
	t.touch(rowJob, job.ID)
	return nil
}

func (t *memTx) GetProposal(_ context.Context, id int64) (*model.Proposal, error) {
	p, ok := t.s.proposals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) SaveProposal(_ context.Context, p *model.Proposal) error {
	cur, ok := t.s.proposals[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = p.Status
	cur.UpdatedAt = t.now()
	p.UpdatedAt = cur.UpdatedAt
	t.s.proposals[p.ID] = cur
	t.touch(rowProposal, p.ID)
	return nil
}

func (t *memTx) ListProposalMilestones(_ context.Context, proposalID int64) ([]model.ProposalMilestone, error) {
	var out []model.ProposalMilestone
	for _, m := range t.s.proposalMilestones {
		if m.ProposalID == proposalID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ListJobMilestones(_ context.Context, jobID int64) ([]model.JobMilestone, error) {
	var out []model.JobMilestone
	for _, m := range t.s.jobMilestones {
		if m.JobID == jobID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) CreateJobMilestone(_ context.Context, m *model.JobMilestone) error {
	if _, ok := t.s.jobs[m.JobID]; !ok {
		return repository.ErrNotFound
	}
	m.ID = t.s.id()
	m.CreatedAt = t.now()
	m.UpdatedAt = m.CreatedAt
	t.s.jobMilestones[m.ID] = *m
	t.touch(rowJobMilestone, m.ID)
	return nil
}

func (t *memTx) CreateProposalMilestone(_ context.Context, m *model.ProposalMilestone) error {
	if _, ok := t.s.proposals[m.ProposalID]; !ok {
		return repository.ErrNotFound
	}
	m.ID = t.s.id()
	m.CreatedAt = t.now()
	m.UpdatedAt = m.CreatedAt
	t.s.proposalMilestones[m.ID] = *m
	t.touch(rowProposalMilestone, m.ID)
	return nil
}

func (t *memTx) ExistsForProposal(_ context.Context, proposalID int64) (bool, error) {
	for _, c := range t.s.contracts {
		if c.ProposalID == proposalID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertContract(_ context.Context, c *model.Contract) error {
	for _, cur := range t.s.contracts {
		if cur.JobID == c.JobID || cur.ProposalID == c.ProposalID {
			return repository.ErrDuplicate
		}
	}
	c.ID = t.s.id()
	c.CreatedAt = t.now()
	c.UpdatedAt = c.CreatedAt
	t.s.contracts[c.ID] = *c
	t.touch(rowContract, c.ID)
	return nil
}

func (t *memTx) GetContract(_ context.Context, id int64) (*model.Contract, error) {
	c, ok := t.s.contracts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

// GetContractForUpdate stands in for a row lock: the contract is validated at
// commit as if it had been written.
func (t *memTx) GetContractForUpdate(ctx context.Context, id int64) (*model.Contract, error) {
	c, err := t.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	t.touch(rowContract, id)
	return c, nil
}

func (t *memTx) ListContractsByUser(_ context.Context, userID int64) ([]model.Contract, error) {
	var out []model.Contract
	for _, c := range t.s.contracts {
		if c.ClientID == userID || c.FreelancerID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) UpdateContractStatus(_ context.Context, c *model.Contract, from model.ContractStatus) error {
	cur, ok := t.s.contracts[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Status != from {
		return repository.ErrStale
	}
	cur.Status = c.Status
	cur.UpdatedAt = t.now()
	c.UpdatedAt = cur.UpdatedAt
	t.s.contracts[c.ID] = cur
	t.touch(rowContract, c.ID)
	return nil
}

func (t *memTx) InsertMilestones(_ context.Context, ms []*model.ContractMilestone) error {
	for _, m := range ms {
		if _, ok := t.s.contracts[m.ContractID]; !ok {
			return repository.ErrNotFound
		}
		m.ID = t.s.id()
		m.CreatedAt = t.now()
		m.UpdatedAt = m.CreatedAt
		t.s.milestones[m.ID] = *m
		t.touch(rowMilestone, m.ID)
	}
	return nil
}

func (t *memTx) ListMilestones(_ context.Context, contractID int64) ([]model.ContractMilestone, error) {
	var out []model.ContractMilestone
	for _, m := range t.s.milestones {
		if m.ContractID == contractID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) GetMilestoneForUpdate(_ context.Context, id int64) (*model.ContractMilestone, error) {
	m, ok := t.s.milestones[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t.touch(rowMilestone, id)
	return &m, nil
}

func (t *memTx) UpdateMilestone(_ context.Context, m *model.ContractMilestone, from model.MilestoneStatus) error {
	cur, ok := t.s.milestones[m.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Status != from {
		return repository.ErrStale
	}
	cur.Status = m.Status
	cur.SubmittedAt = m.SubmittedAt
	cur.AcceptedAt = m.AcceptedAt
	cur.RejectedAt = m.RejectedAt
	cur.RejectionReason = m.RejectionReason
	cur.UpdatedAt = t.now()
	m.UpdatedAt = cur.UpdatedAt
	t.s.milestones[m.ID] = cur
	t.touch(rowMilestone, m.ID)
	return nil
}

func (t *memTx) MaxMilestoneOrder(_ context.Context, contractID int64) (int, error) {
	maxOrder := 0
	for _, m := range t.s.milestones {
		if m.ContractID == contractID && m.OrderIndex > maxOrder {
			maxOrder = m.OrderIndex
		}
	}
	return maxOrder, nil
}

func (t *memTx) Emit(_ context.Context, aggregateType string, aggregateID int64, routingKey string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.s.events = append(t.s.events, Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       raw,
	})
	return nil
}

var _ repository.UnitOfWork = (*Store)(nil)
