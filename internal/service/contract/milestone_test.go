package contract

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/model"
	"contractsvc/internal/repository"
)

var allMilestoneStatuses = []model.MilestoneStatus{
	model.MilestonePending,
	model.MilestoneFundingRequired,
	model.MilestoneFunded,
	model.MilestoneInProgress,
	model.MilestoneSubmitted,
	model.MilestoneAccepted,
	model.MilestoneRejected,
	model.MilestoneDisputed,
	model.MilestonePaid,
}

func TestUpdateMilestoneStatus_ExternalTargetsAlwaysInvalid(t *testing.T) {
	targets := []model.MilestoneStatus{
		model.MilestoneFundingRequired,
		model.MilestoneFunded,
		model.MilestonePending,
		model.MilestoneDisputed,
		model.MilestonePaid,
	}
	for _, from := range []model.MilestoneStatus{model.MilestonePending, model.MilestoneSubmitted, model.MilestoneAccepted} {
		f := newFixture(t)
		id := f.milestoneIn(t, from)
		for _, to := range targets {
			for _, actor := range []Actor{client, freelancer, stranger} {
				_, err := f.engine.UpdateMilestoneStatus(context.Background(), actor, id, MilestoneUpdate{Status: to})
				assert.ErrorIs(t, err, ErrInvalid, "from=%s to=%s actor=%d", from, to, actor.ID)
			}
		}
	}
}

func TestUpdateMilestoneStatus_UnknownTargetInvalid(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneInProgress)

	_, err := f.engine.UpdateMilestoneStatus(context.Background(), freelancer, id, MilestoneUpdate{Status: "DONE"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUpdateMilestoneStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitMilestone(context.Background(), freelancer, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitMilestone_FromPendingInvalid(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestonePending)

	_, err := f.engine.SubmitMilestone(context.Background(), freelancer, id)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAcceptMilestone_FromInProgressInvalid(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneInProgress)

	_, err := f.engine.AcceptMilestone(context.Background(), client, id)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMilestoneRoles(t *testing.T) {
	cases := []struct {
		name  string
		from  model.MilestoneStatus
		to    model.MilestoneStatus
		actor Actor
	}{
		{"client cannot submit", model.MilestoneInProgress, model.MilestoneSubmitted, client},
		{"stranger cannot submit", model.MilestoneInProgress, model.MilestoneSubmitted, stranger},
		{"freelancer cannot accept", model.MilestoneSubmitted, model.MilestoneAccepted, freelancer},
		{"stranger cannot accept", model.MilestoneSubmitted, model.MilestoneAccepted, stranger},
		{"freelancer cannot reject", model.MilestoneSubmitted, model.MilestoneRejected, freelancer},
		{"client cannot start", model.MilestoneFunded, model.MilestoneInProgress, client},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.milestoneIn(t, tc.from)
			_, err := f.engine.UpdateMilestoneStatus(context.Background(), tc.actor, id, MilestoneUpdate{Status: tc.to})
			assert.ErrorIs(t, err, ErrForbidden)
		})
	}
}

func TestMilestoneRoleCheckedBeforeState(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestonePending)

	// wrong person and wrong time: the person is reported
	_, err := f.engine.AcceptMilestone(context.Background(), freelancer, id)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRoleClaimIsNotTrusted(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneSubmitted)

	// claims CLIENT but is not the contract's client
	_, err := f.engine.AcceptMilestone(context.Background(), Actor{ID: 99, Role: client.Role}, id)
	assert.ErrorIs(t, err, ErrForbidden)

	// the contract's client is recognised even with a different claim
	_, err = f.engine.AcceptMilestone(context.Background(), Actor{ID: client.ID, Role: freelancer.Role}, id)
	assert.NoError(t, err)
}

// Every (from, to) pair through the generic path must match the transition
// table exactly.
func TestMilestoneTransitionTable(t *testing.T) {
	allowed := map[model.MilestoneStatus]map[model.MilestoneStatus]Actor{
		model.MilestoneSubmitted:  {model.MilestoneInProgress: freelancer, model.MilestoneRejected: freelancer},
		model.MilestoneAccepted:   {model.MilestoneSubmitted: client},
		model.MilestoneRejected:   {model.MilestoneSubmitted: client},
		model.MilestoneInProgress: {model.MilestoneFunded: freelancer, model.MilestoneRejected: freelancer},
	}
	for to, froms := range allowed {
		for _, from := range allMilestoneStatuses {
			actor, ok := froms[from]
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				id := f.milestoneIn(t, from)
				if !ok {
					actor = client
					if to == model.MilestoneSubmitted || to == model.MilestoneInProgress {
						actor = freelancer
					}
				}
				m, err := f.engine.UpdateMilestoneStatus(context.Background(), actor, id, MilestoneUpdate{Status: to, RejectionReason: "r"})
				if ok {
					require.NoError(t, err)
					assert.Equal(t, to, m.Status)
				} else {
					assert.ErrorIs(t, err, ErrInvalid)
				}
			})
		}
	}
}

func TestNamedOperationsMatchGenericPath(t *testing.T) {
	type named func(e *Engine, id int64) (*model.ContractMilestone, error)
	cases := []struct {
		to    model.MilestoneStatus
		actor Actor
		call  named
	}{
		{model.MilestoneSubmitted, freelancer, func(e *Engine, id int64) (*model.ContractMilestone, error) {
			return e.SubmitMilestone(context.Background(), freelancer, id)
		}},
		{model.MilestoneAccepted, client, func(e *Engine, id int64) (*model.ContractMilestone, error) {
			return e.AcceptMilestone(context.Background(), client, id)
		}},
		{model.MilestoneRejected, client, func(e *Engine, id int64) (*model.ContractMilestone, error) {
			return e.RejectMilestone(context.Background(), client, id, "r")
		}},
		{model.MilestoneInProgress, freelancer, func(e *Engine, id int64) (*model.ContractMilestone, error) {
			return e.StartMilestone(context.Background(), freelancer, id)
		}},
	}
	for _, tc := range cases {
		for _, from := range allMilestoneStatuses {
			a, b := newFixture(t), newFixture(t)
			idA, idB := a.milestoneIn(t, from), b.milestoneIn(t, from)

			mA, errA := tc.call(a.engine, idA)
			mB, errB := b.engine.UpdateMilestoneStatus(context.Background(), tc.actor, idB, MilestoneUpdate{Status: tc.to, RejectionReason: "r"})

			assert.Equal(t, KindOf(errB), KindOf(errA), "to=%s from=%s", tc.to, from)
			if errA == nil && errB == nil {
				assert.Equal(t, mB.Status, mA.Status)
				assert.Equal(t, mB.SubmittedAt == nil, mA.SubmittedAt == nil)
				assert.Equal(t, mB.AcceptedAt == nil, mA.AcceptedAt == nil)
				assert.Equal(t, mB.RejectedAt == nil, mA.RejectedAt == nil)
				assert.Equal(t, mB.RejectionReason, mA.RejectionReason)
			}
		}
	}
}

func TestMilestone_RejectResubmitRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.milestoneIn(t, model.MilestoneSubmitted)

	first, err := f.engine.ListContractMilestones(ctx, client, f.contractOf(t, id))
	require.NoError(t, err)
	firstSubmit := *first[0].SubmittedAt

	rejected, err := f.engine.RejectMilestone(ctx, client, id, "  missing assets ")
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneRejected, rejected.Status)
	require.NotNil(t, rejected.RejectedAt)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "missing assets", *rejected.RejectionReason)
	assert.Nil(t, rejected.SubmittedAt)

	resubmitted, err := f.engine.SubmitMilestone(ctx, freelancer, id)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneSubmitted, resubmitted.Status)
	assert.Nil(t, resubmitted.RejectedAt)
	assert.Nil(t, resubmitted.RejectionReason)
	require.NotNil(t, resubmitted.SubmittedAt)
	assert.True(t, resubmitted.SubmittedAt.After(firstSubmit))
}

func TestMilestone_AcceptedIsFinalForParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.milestoneIn(t, model.MilestoneSubmitted)

	accepted, err := f.engine.AcceptMilestone(ctx, client, id)
	require.NoError(t, err)
	require.NotNil(t, accepted.AcceptedAt)

	_, err = f.engine.AcceptMilestone(ctx, client, id)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.engine.RejectMilestone(ctx, client, id, "late")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.engine.SubmitMilestone(ctx, freelancer, id)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStartMilestone_ClearsTimestamps(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneRejected)

	m, err := f.engine.StartMilestone(context.Background(), freelancer, id)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneInProgress, m.Status)
	assert.Nil(t, m.SubmittedAt)
	assert.Nil(t, m.RejectedAt)
	assert.Nil(t, m.RejectionReason)
}

func TestMilestone_ConcurrentAcceptAndReject(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		id := f.milestoneIn(t, model.MilestoneSubmitted)

		var wg sync.WaitGroup
		var acceptErr, rejectErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, acceptErr = f.engine.AcceptMilestone(context.Background(), client, id)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, rejectErr = f.engine.RejectMilestone(context.Background(), client, id, "no")
		}()
		close(start)
		wg.Wait()

		require.True(t, (acceptErr == nil) != (rejectErr == nil), "exactly one must win: accept=%v reject=%v", acceptErr, rejectErr)
		loser := acceptErr
		if loser == nil {
			loser = rejectErr
		}
		kind := KindOf(loser)
		assert.Contains(t, []Kind{KindInvalid, KindConflict}, kind)
	}
}

func TestMilestone_StaleWriteIsConflict(t *testing.T) {
	base := newFixture(t)
	id := base.milestoneIn(t, model.MilestoneSubmitted)
	f := newFixtureWith(t, base.store, &faultyUoW{inner: base.store, updateMilestone: repository.ErrStale})

	_, err := f.engine.AcceptMilestone(context.Background(), client, id)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMilestone_EventsEmitted(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneAccepted)

	var keys []string
	var accepted mqcontracts.MilestoneEventPayload
	for _, ev := range f.store.Events() {
		keys = append(keys, ev.RoutingKey)
		if ev.RoutingKey == mqcontracts.RoutingMilestoneAccepted {
			require.NoError(t, json.Unmarshal(ev.Payload, &accepted))
		}
	}
	assert.Equal(t, []string{
		mqcontracts.RoutingContractCreated,
		mqcontracts.RoutingMilestoneStarted,
		mqcontracts.RoutingMilestoneSubmitted,
		mqcontracts.RoutingMilestoneAccepted,
	}, keys)
	assert.Equal(t, id, accepted.MilestoneID)
	assert.Equal(t, int64(40000), accepted.Amount)
	assert.Equal(t, "SUBMITTED", accepted.From)
	assert.Equal(t, client.ID, accepted.ActorID)
}

func TestAddMilestone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t)

	m, err := f.engine.AddMilestone(ctx, client, v.ID, AddMilestoneInput{Title: "Launch", Amount: 15000})
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneFundingRequired, m.Status)
	assert.Equal(t, 3, m.OrderIndex)
	assert.Equal(t, "USD", m.Currency)

	order := 10
	m, err = f.engine.AddMilestone(ctx, client, v.ID, AddMilestoneInput{Title: "Support", Amount: 5000, OrderIndex: &order})
	require.NoError(t, err)
	assert.Equal(t, 10, m.OrderIndex)

	_, err = f.engine.AddMilestone(ctx, freelancer, v.ID, AddMilestoneInput{Title: "x", Amount: 1})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.engine.AddMilestone(ctx, client, v.ID, AddMilestoneInput{Title: " ", Amount: 1})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.engine.AddMilestone(ctx, client, v.ID, AddMilestoneInput{Title: "x", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.engine.AddMilestone(ctx, client, 4242, AddMilestoneInput{Title: "x", Amount: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	ms, err := f.engine.ListContractMilestones(ctx, freelancer, v.ID)
	require.NoError(t, err)
	require.Len(t, ms, 4)
	assert.Equal(t, "Support", ms[3].Title)
}

func TestAddMilestone_EmptyContractStartsAtOne(t *testing.T) {
	f := newFixture(t)
	f.store.SeedJob(model.Job{ID: 2, ClientID: 10, Title: "Logo", Status: model.JobOpen})
	f.store.SeedProposal(model.Proposal{ID: 6, JobID: 2, FreelancerID: 21, TotalAmount: 5000})
	v, err := f.engine.CreateContract(context.Background(), CreateInput{JobID: 2, ProposalID: 6})
	require.NoError(t, err)

	m, err := f.engine.AddMilestone(context.Background(), client, v.ID, AddMilestoneInput{Title: "Logo", Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, 1, m.OrderIndex)
}

func TestAddMilestone_RequiresActiveContract(t *testing.T) {
	f := newFixture(t)
	v := f.create(t)
	_, err := f.engine.UpdateContractStatus(context.Background(), client, v.ID, model.ContractPaused)
	require.NoError(t, err)

	_, err = f.engine.AddMilestone(context.Background(), client, v.ID, AddMilestoneInput{Title: "x", Amount: 1})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestListContractMilestones_PartiesOnly(t *testing.T) {
	f := newFixture(t)
	v := f.create(t)

	_, err := f.engine.ListContractMilestones(context.Background(), stranger, v.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.engine.ListContractMilestones(context.Background(), client, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func (f *fixture) contractOf(t *testing.T, milestoneID int64) int64 {
	t.Helper()
	var contractID int64
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		m, err := tx.Contracts().GetMilestoneForUpdate(ctx, milestoneID)
		if err != nil {
			return err
		}
		contractID = m.ContractID
		return nil
	}))
	return contractID
}
