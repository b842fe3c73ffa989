package contract

import (
	"context"

	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/repository"
	"contractsvc/pkg/metrics"
)

// externalTransitions maps a payment/dispute-owned target to the states it
// may be entered from.
var externalTransitions = map[model.MilestoneStatus][]model.MilestoneStatus{
	model.MilestoneFundingRequired: {model.MilestonePending},
	model.MilestoneFunded:          {model.MilestonePending, model.MilestoneFundingRequired},
	model.MilestonePaid:            {model.MilestoneAccepted, model.MilestoneDisputed},
	model.MilestoneDisputed: {
		model.MilestoneInProgress,
		model.MilestoneSubmitted,
		model.MilestoneRejected,
		model.MilestoneAccepted,
	},
	// 争议解决后回到进行中
	model.MilestoneInProgress: {model.MilestoneDisputed},
}

// ApplyExternalMilestoneStatus records a status decided by the payment or
// dispute system. It is only reachable from the payment event consumer,
// never from HTTP. Re-applying the current status is a no-op so redelivered
// events are harmless.
func (e *Engine) ApplyExternalMilestoneStatus(ctx context.Context, milestoneID int64, to model.MilestoneStatus, source string) (_ *model.ContractMilestone, err error) {
	const op = "contract.ApplyExternalMilestoneStatus"
	defer func() { metrics.IncrementMilestoneTransition(string(to), resultLabel(err)) }()

	log := e.log(ctx).With(
		zap.Int64("milestone_id", milestoneID),
		zap.String("to", string(to)),
		zap.String("source", source),
	)

	from, ok := externalTransitions[to]
	if !ok {
		return nil, errorf(KindInvalid, op, "status %s cannot be set externally", to)
	}

	var out *model.ContractMilestone
	err = e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		m, err := tx.Contracts().GetMilestoneForUpdate(ctx, milestoneID)
		if err != nil {
			return storageErr(op, "milestone", err)
		}
		if m.Status == to {
			out = m
			return nil
		}
		if !allowedFrom(from, m.Status) {
			return errorf(KindInvalid, op, "cannot move milestone from %s to %s", m.Status, to)
		}

		prev := m.Status
		m.Status = to
		if to == model.MilestoneInProgress {
			clearWorkTimestamps(m, e.now(), nil)
		}
		if err := tx.Contracts().UpdateMilestone(ctx, m, prev); err != nil {
			return storageErr(op, "milestone", err)
		}
		out = m
		return nil
	})
	if err != nil {
		err = storageErr(op, "milestone", err)
		log.Warn("External milestone status rejected", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	log.Info("External milestone status applied", zap.Int64("contract_id", out.ContractID))
	return out, nil
}
