package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/model"
	"contractsvc/internal/service/contract"
	"contractsvc/pkg/mq"
)

type applyCall struct {
	id     int64
	to     model.MilestoneStatus
	source string
}

type fakeApplier struct {
	calls []applyCall
	err   error
}

func (f *fakeApplier) ApplyExternalMilestoneStatus(_ context.Context, id int64, to model.MilestoneStatus, source string) (*model.ContractMilestone, error) {
	f.calls = append(f.calls, applyCall{id, to, source})
	if f.err != nil {
		return nil, f.err
	}
	return &model.ContractMilestone{ID: id, ContractID: 1, Status: to}, nil
}

type fakeDeduper struct {
	seen     map[string]bool
	released []string
}

func (f *fakeDeduper) AcquireOnce(_ context.Context, handler, id string) bool {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	k := handler + ":" + id
	if f.seen[k] {
		return false
	}
	f.seen[k] = true
	return true
}

func (f *fakeDeduper) Release(_ context.Context, handler, id string) {
	delete(f.seen, handler+":"+id)
	f.released = append(f.released, id)
}

type fakeCounter struct{ n map[string]int64 }

func (f *fakeCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	if f.n == nil {
		f.n = map[string]int64{}
	}
	f.n[key]++
	return f.n[key], nil
}

func (f *fakeCounter) Reset(_ context.Context, key string) error {
	delete(f.n, key)
	return nil
}

type fakeDLQ struct{ reasons []string }

func (f *fakeDLQ) PublishToDLQ(_ string, _ []byte, reason string) error {
	f.reasons = append(f.reasons, reason)
	return nil
}

type harness struct {
	h       *PaymentEventHandler
	applier *fakeApplier
	dedup   *fakeDeduper
	dlq     *fakeDLQ
}

func newHarness() *harness {
	a, d, q := &fakeApplier{}, &fakeDeduper{}, &fakeDLQ{}
	return &harness{
		h:       NewPaymentEventHandler(a, d, &fakeCounter{}, q, zap.NewNop()),
		applier: a,
		dedup:   d,
		dlq:     q,
	}
}

func message(t *testing.T, id, key string, p mqcontracts.PaymentMilestonePayload) mq.Message {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return mq.Message{ID: id, RoutingKey: key, Body: body}
}

func TestHandle_MapsRoutingKeys(t *testing.T) {
	cases := map[string]model.MilestoneStatus{
		mqcontracts.RoutingPaymentFundingRequired:   model.MilestoneFundingRequired,
		mqcontracts.RoutingPaymentMilestoneFunded:   model.MilestoneFunded,
		mqcontracts.RoutingPaymentMilestonePaid:     model.MilestonePaid,
		mqcontracts.RoutingPaymentMilestoneDisputed: model.MilestoneDisputed,
		mqcontracts.RoutingPaymentDisputeResolved:   model.MilestoneInProgress,
	}
	for key, want := range cases {
		hs := newHarness()
		err := hs.h.Handle(context.Background(), message(t, "m-"+key, key, mqcontracts.PaymentMilestonePayload{MilestoneID: 7, Reference: "pay_1"}))
		require.NoError(t, err)
		require.Len(t, hs.applier.calls, 1, key)
		assert.Equal(t, want, hs.applier.calls[0].to)
		assert.Equal(t, key+"#pay_1", hs.applier.calls[0].source)
		assert.Empty(t, hs.dlq.reasons)
	}
}

func TestHandle_DisputeResolvedToPaid(t *testing.T) {
	hs := newHarness()
	err := hs.h.Handle(context.Background(), message(t, "m1", mqcontracts.RoutingPaymentDisputeResolved,
		mqcontracts.PaymentMilestonePayload{MilestoneID: 7, Status: "PAID"}))
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePaid, hs.applier.calls[0].to)

	err = hs.h.Handle(context.Background(), message(t, "m2", mqcontracts.RoutingPaymentDisputeResolved,
		mqcontracts.PaymentMilestonePayload{MilestoneID: 7, Status: "ACCEPTED"}))
	require.NoError(t, err)
	assert.Len(t, hs.applier.calls, 1)
	assert.Len(t, hs.dlq.reasons, 1)
}

func TestHandle_DuplicateDeliverySkipped(t *testing.T) {
	hs := newHarness()
	msg := message(t, "m1", mqcontracts.RoutingPaymentMilestoneFunded, mqcontracts.PaymentMilestonePayload{MilestoneID: 7})

	require.NoError(t, hs.h.Handle(context.Background(), msg))
	require.NoError(t, hs.h.Handle(context.Background(), msg))
	assert.Len(t, hs.applier.calls, 1)
}

func TestHandle_PoisonMessagesGoToDLQ(t *testing.T) {
	hs := newHarness()

	err := hs.h.Handle(context.Background(), mq.Message{ID: "x", RoutingKey: mqcontracts.RoutingPaymentMilestonePaid, Body: []byte("{not json")})
	require.NoError(t, err)
	err = hs.h.Handle(context.Background(), message(t, "y", "payment.milestone.refunded", mqcontracts.PaymentMilestonePayload{MilestoneID: 7}))
	require.NoError(t, err)
	err = hs.h.Handle(context.Background(), message(t, "z", mqcontracts.RoutingPaymentMilestonePaid, mqcontracts.PaymentMilestonePayload{}))
	require.NoError(t, err)

	assert.Len(t, hs.dlq.reasons, 3)
	assert.Empty(t, hs.applier.calls)
}

func TestHandle_RejectedTransitionGoesToDLQ(t *testing.T) {
	hs := newHarness()
	hs.applier.err = &contract.Error{Kind: contract.KindInvalid, Msg: "cannot move milestone from PENDING to PAID"}

	err := hs.h.Handle(context.Background(), message(t, "m1", mqcontracts.RoutingPaymentMilestonePaid, mqcontracts.PaymentMilestonePayload{MilestoneID: 7}))
	require.NoError(t, err)
	require.Len(t, hs.dlq.reasons, 1)
	assert.Contains(t, hs.dlq.reasons[0], "INVALID")
}

func TestHandle_TransientErrorRetriesThenDLQ(t *testing.T) {
	hs := newHarness()
	hs.applier.err = &contract.Error{Kind: contract.KindInternal, Err: context.DeadlineExceeded}
	msg := message(t, "m1", mqcontracts.RoutingPaymentMilestoneFunded, mqcontracts.PaymentMilestonePayload{MilestoneID: 7})

	for i := 0; i < maxRetries; i++ {
		err := hs.h.Handle(context.Background(), msg)
		require.Error(t, err, "attempt %d should nack", i+1)
	}
	assert.Len(t, hs.dedup.released, maxRetries)
	assert.Empty(t, hs.dlq.reasons)

	require.NoError(t, hs.h.Handle(context.Background(), msg))
	require.Len(t, hs.dlq.reasons, 1)
	assert.Contains(t, hs.dlq.reasons[0], "max_retries_exceeded")
	assert.Len(t, hs.applier.calls, maxRetries+1)
}

func TestHandle_ConflictIsRetried(t *testing.T) {
	hs := newHarness()
	hs.applier.err = &contract.Error{Kind: contract.KindConflict, Msg: "milestone modified concurrently"}
	msg := message(t, "m1", mqcontracts.RoutingPaymentMilestonePaid, mqcontracts.PaymentMilestonePayload{MilestoneID: 7})

	require.Error(t, hs.h.Handle(context.Background(), msg))
	assert.Empty(t, hs.dlq.reasons)
	assert.Equal(t, []string{"m1"}, hs.dedup.released)
}

func TestHandle_NonRetryableInternalGoesStraightToDLQ(t *testing.T) {
	hs := newHarness()
	hs.applier.err = &contract.Error{Kind: contract.KindInternal, Err: errors.New("column \"foo\" does not exist")}
	msg := message(t, "m1", mqcontracts.RoutingPaymentMilestoneFunded, mqcontracts.PaymentMilestonePayload{MilestoneID: 7})

	require.NoError(t, hs.h.Handle(context.Background(), msg))
	require.Len(t, hs.dlq.reasons, 1)
	assert.Contains(t, hs.dlq.reasons[0], "unknown_error")
	assert.Len(t, hs.applier.calls, 1)
	assert.Empty(t, hs.dedup.released)
}

func TestClassify(t *testing.T) {
	retry, typ := classify(&contract.Error{Kind: contract.KindConflict})
	assert.True(t, retry)
	assert.Equal(t, "conflict", typ)

	retry, typ = classify(&contract.Error{Kind: contract.KindInternal, Err: context.DeadlineExceeded})
	assert.True(t, retry)
	assert.Equal(t, "timeout", typ)

	retry, typ = classify(&contract.Error{Kind: contract.KindInternal, Err: context.Canceled})
	assert.False(t, retry)
	assert.Equal(t, "context_canceled", typ)
}
