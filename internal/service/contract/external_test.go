package contract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractsvc/internal/model"
)

func TestApplyExternalMilestoneStatus_Table(t *testing.T) {
	for to, froms := range externalTransitions {
		for _, from := range allMilestoneStatuses {
			if from == to {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				id := f.milestoneIn(t, from)

				m, err := f.engine.ApplyExternalMilestoneStatus(context.Background(), id, to, "test")
				if allowedFrom(froms, from) {
					require.NoError(t, err)
					assert.Equal(t, to, m.Status)
				} else {
					assert.ErrorIs(t, err, ErrInvalid)
				}
			})
		}
	}
}

func TestApplyExternalMilestoneStatus_Idempotent(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestonePaid)
	events := len(f.store.Events())

	m, err := f.engine.ApplyExternalMilestoneStatus(context.Background(), id, model.MilestonePaid, "redelivery")
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePaid, m.Status)
	assert.Len(t, f.store.Events(), events)
}

func TestApplyExternalMilestoneStatus_CallerStatesRejected(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneSubmitted)

	for _, to := range []model.MilestoneStatus{model.MilestoneAccepted, model.MilestoneRejected, model.MilestoneSubmitted, "BOGUS"} {
		_, err := f.engine.ApplyExternalMilestoneStatus(context.Background(), id, to, "test")
		assert.ErrorIs(t, err, ErrInvalid, "to=%s", to)
	}
	_, err := f.engine.ApplyExternalMilestoneStatus(context.Background(), 4242, model.MilestoneFunded, "test")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisputeResolutionResetsWork(t *testing.T) {
	f := newFixture(t)
	id := f.milestoneIn(t, model.MilestoneSubmitted)
	_, err := f.engine.ApplyExternalMilestoneStatus(context.Background(), id, model.MilestoneDisputed, "test")
	require.NoError(t, err)

	m, err := f.engine.ApplyExternalMilestoneStatus(context.Background(), id, model.MilestoneInProgress, "test")
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneInProgress, m.Status)
	assert.Nil(t, m.SubmittedAt)
	assert.Nil(t, m.RejectedAt)
}
