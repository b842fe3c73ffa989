package contract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/model"
	"contractsvc/internal/repository"
)

var allContractStatuses = []model.ContractStatus{
	model.ContractActive,
	model.ContractPaused,
	model.ContractCompleted,
	model.ContractCancelled,
	model.ContractDisputed,
}

// pathTo lists the client requests that take a fresh ACTIVE contract to s.
var pathTo = map[model.ContractStatus][]model.ContractStatus{
	model.ContractActive:    nil,
	model.ContractPaused:    {model.ContractPaused},
	model.ContractCompleted: {model.ContractCompleted},
	model.ContractCancelled: {model.ContractCancelled},
	model.ContractDisputed:  {model.ContractDisputed},
}

func (f *fixture) contractIn(t *testing.T, s model.ContractStatus) int64 {
	t.Helper()
	v := f.create(t)
	for _, step := range pathTo[s] {
		_, err := f.engine.UpdateContractStatus(context.Background(), client, v.ID, step)
		require.NoError(t, err)
	}
	return v.ID
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(model.ContractActive, model.ContractPaused))
	assert.True(t, CanTransition(model.ContractPaused, model.ContractActive))
	assert.True(t, CanTransition(model.ContractDisputed, model.ContractCancelled))
	assert.False(t, CanTransition(model.ContractPaused, model.ContractCompleted))
	assert.False(t, CanTransition(model.ContractActive, model.ContractActive))
	assert.False(t, CanTransition(model.ContractCompleted, model.ContractActive))
	assert.False(t, CanTransition(model.ContractCancelled, model.ContractActive))
}

func TestUpdateContractStatus_Table(t *testing.T) {
	for _, from := range allContractStatuses {
		for _, to := range allContractStatuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				id := f.contractIn(t, from)

				v, err := f.engine.UpdateContractStatus(context.Background(), client, id, to)
				if CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, v.Status)
					assert.Equal(t, 2, v.TotalMilestones)
					assert.Empty(t, v.Milestones)
				} else {
					assert.ErrorIs(t, err, ErrInvalid)
				}
			})
		}
	}
}

func TestUpdateContractStatus_TerminalIsInvalidForEveryone(t *testing.T) {
	for _, s := range []model.ContractStatus{model.ContractCompleted, model.ContractCancelled} {
		f := newFixture(t)
		id := f.contractIn(t, s)
		for _, actor := range []Actor{client, freelancer, stranger} {
			_, err := f.engine.UpdateContractStatus(context.Background(), actor, id, model.ContractActive)
			assert.ErrorIs(t, err, ErrInvalid, "status=%s actor=%d", s, actor.ID)
		}
	}
}

func TestUpdateContractStatus_OnlyClient(t *testing.T) {
	f := newFixture(t)
	id := f.contractIn(t, model.ContractActive)

	_, err := f.engine.UpdateContractStatus(context.Background(), freelancer, id, model.ContractPaused)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.engine.UpdateContractStatus(context.Background(), stranger, id, model.ContractPaused)
	assert.ErrorIs(t, err, ErrForbidden)

	// forbidden wins over an illegal target for non-terminal contracts
	_, err = f.engine.UpdateContractStatus(context.Background(), freelancer, id, model.ContractActive)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.UpdateContractStatus(context.Background(), client, 4242, model.ContractPaused)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateContractStatus_EmitsEvent(t *testing.T) {
	f := newFixture(t)
	id := f.contractIn(t, model.ContractActive)

	_, err := f.engine.UpdateContractStatus(context.Background(), client, id, model.ContractPaused)
	require.NoError(t, err)

	events := f.store.Events()
	last := events[len(events)-1]
	assert.Equal(t, mqcontracts.RoutingContractStatusChanged, last.RoutingKey)
	assert.Equal(t, mqcontracts.AggregateContract, last.AggregateType)
	assert.Equal(t, id, last.AggregateID)

	var p mqcontracts.ContractStatusChangedPayload
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	assert.Equal(t, "ACTIVE", p.From)
	assert.Equal(t, "PAUSED", p.To)
	assert.Equal(t, client.ID, p.ActorID)
}

func TestMilestonesNotGatedOnContractStatus(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneInProgress)
	_, err := f.engine.UpdateContractStatus(context.Background(), client, f.contractOf(t, id), model.ContractPaused)
	require.NoError(t, err)

	m, err := f.engine.SubmitMilestone(context.Background(), freelancer, id)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneSubmitted, m.Status)
}

func TestGetContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	ids := []int64{created.Milestones[0].ID, created.Milestones[1].ID}

	f.drive(t, ids[0], model.MilestonePaid)
	f.drive(t, ids[1], model.MilestoneSubmitted)

	for _, actor := range []Actor{client, freelancer} {
		v, err := f.engine.GetContract(ctx, actor, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Landing page", v.JobTitle)
		require.Len(t, v.Milestones, 2)
		assert.Equal(t, "Design", v.Milestones[0].Title)
		assert.Equal(t, Summary{TotalMilestones: 2, CompletedMilestones: 1, ActiveMilestones: 1}, v.Summary)
	}

	_, err := f.engine.GetContract(ctx, stranger, created.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.engine.GetContract(ctx, client, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetContract_JobLookup(t *testing.T) {
	base := newFixture(t)
	created := base.create(t)
	uow := &faultyUoW{inner: base.store}
	f := newFixtureWith(t, base.store, uow)
	ctx := context.Background()

	// job 丢失：标题为空，读取仍成功
	uow.getJob = repository.ErrNotFound
	v, err := f.engine.GetContract(ctx, client, created.ID)
	require.NoError(t, err)
	assert.Empty(t, v.JobTitle)
	list, err := f.engine.GetUserContracts(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].JobTitle)

	uow.getJob = errors.New("connection reset by peer")
	_, err = f.engine.GetContract(ctx, client, created.ID)
	assert.ErrorIs(t, err, ErrInternal)
	_, err = f.engine.GetUserContracts(ctx, client.ID)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestSummaryCounts(t *testing.T) {
	ms := []model.ContractMilestone{
		{Status: model.MilestonePending},
		{Status: model.MilestoneInProgress},
		{Status: model.MilestoneSubmitted},
		{Status: model.MilestoneAccepted},
		{Status: model.MilestonePaid},
		{Status: model.MilestonePaid},
		{Status: model.MilestoneDisputed},
	}
	assert.Equal(t, Summary{TotalMilestones: 7, CompletedMilestones: 2, ActiveMilestones: 2}, summarize(ms))
	assert.Equal(t, Summary{}, summarize(nil))
}

func TestGetUserContracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)

	f.store.SeedJob(model.Job{ID: 2, ClientID: 10, Title: "Logo", Status: model.JobOpen})
	f.store.SeedProposal(model.Proposal{ID: 6, JobID: 2, FreelancerID: 21, TotalAmount: 5000})
	second, err := f.engine.CreateContract(ctx, CreateInput{JobID: 2, ProposalID: 6})
	require.NoError(t, err)

	views, err := f.engine.GetUserContracts(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.Equal(t, first.ID, views[1].ID)
	assert.Equal(t, "Logo", views[0].JobTitle)
	assert.Equal(t, 2, views[1].TotalMilestones)
	assert.Empty(t, views[1].Milestones)

	views, err = f.engine.GetUserContracts(ctx, freelancer.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, first.ID, views[0].ID)

	views, err = f.engine.GetUserContracts(ctx, stranger.ID)
	require.NoError(t, err)
	assert.Empty(t, views)
}
