// Package repository defines the storage contracts used by the contract
// lifecycle engine. Implementations live in the postgres and memory
// subpackages.
package repository

import (
	"context"
	"errors"

	"contractsvc/internal/model"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束
	ErrDuplicate = errors.New("duplicate record")
	// ErrStale compare-and-set 失败：行在读取后被并发修改
	ErrStale = errors.New("record modified concurrently")
)

type JobStore interface {
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	// SaveJob persists the mutable fields (status) of an existing job.
	SaveJob(ctx context.Context, job *model.Job) error
}

type ProposalStore interface {
	GetProposal(ctx context.Context, id int64) (*model.Proposal, error)
	SaveProposal(ctx context.Context, p *model.Proposal) error
}

type TemplateStore interface {
	// ListProposalMilestones returns the proposal's milestones ordered by order_index.
	ListProposalMilestones(ctx context.Context, proposalID int64) ([]model.ProposalMilestone, error)
	ListJobMilestones(ctx context.Context, jobID int64) ([]model.JobMilestone, error)
	CreateJobMilestone(ctx context.Context, m *model.JobMilestone) error
	CreateProposalMilestone(ctx context.Context, m *model.ProposalMilestone) error
}

// ContractStore owns contracts and their milestones. Milestone rows are only
// created through it and always carry a parent contract id.
type ContractStore interface {
	// ExistsForProposal reports whether the proposal already has a contract.
	ExistsForProposal(ctx context.Context, proposalID int64) (bool, error)
	// InsertContract fills c.ID, CreatedAt and UpdatedAt. A second contract
	// for the same job or proposal fails with ErrDuplicate.
	InsertContract(ctx context.Context, c *model.Contract) error
	GetContract(ctx context.Context, id int64) (*model.Contract, error)
	// GetContractForUpdate reads the contract and locks it until the
	// surrounding transaction ends.
	GetContractForUpdate(ctx context.Context, id int64) (*model.Contract, error)
	// ListContractsByUser returns contracts where userID is client or
	// freelancer, newest first.
	ListContractsByUser(ctx context.Context, userID int64) ([]model.Contract, error)
	// UpdateContractStatus sets status to `to` only if it is still `from`;
	// otherwise ErrStale.
	UpdateContractStatus(ctx context.Context, c *model.Contract, from model.ContractStatus) error

	InsertMilestones(ctx context.Context, ms []*model.ContractMilestone) error
	ListMilestones(ctx context.Context, contractID int64) ([]model.ContractMilestone, error)
	GetMilestoneForUpdate(ctx context.Context, id int64) (*model.ContractMilestone, error)
	// UpdateMilestone writes status and timestamps only if the stored status
	// is still `from`; otherwise ErrStale.
	UpdateMilestone(ctx context.Context, m *model.ContractMilestone, from model.MilestoneStatus) error
	// MaxMilestoneOrder returns the highest order_index of the contract, 0 when empty.
	MaxMilestoneOrder(ctx context.Context, contractID int64) (int, error)
}

// EventSink records domain events in the same transaction as the state
// change they describe.
type EventSink interface {
	Emit(ctx context.Context, aggregateType string, aggregateID int64, routingKey string, payload any) error
}

// Tx exposes the stores bound to one transaction.
type Tx interface {
	Jobs() JobStore
	Proposals() ProposalStore
	Templates() TemplateStore
	Contracts() ContractStore
	Events() EventSink
}

// UnitOfWork runs fn in a single transaction: it commits when fn returns nil
// and rolls back every write otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
