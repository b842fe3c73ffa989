package contract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/model"
	"contractsvc/internal/repository"
	"contractsvc/pkg/metrics"
	"contractsvc/pkg/rbac"
	"contractsvc/pkg/trace"
)

// milestoneRule is one row of the caller-driven milestone state machine.
type milestoneRule struct {
	permission string
	from       []model.MilestoneStatus
	routingKey string
	apply      func(m *model.ContractMilestone, now time.Time, reason *string)
}

var milestoneRules = map[model.MilestoneStatus]milestoneRule{
	model.MilestoneSubmitted: {
		permission: rbac.PermissionSubmitMilestone,
		from:       []model.MilestoneStatus{model.MilestoneInProgress, model.MilestoneRejected},
		routingKey: mqcontracts.RoutingMilestoneSubmitted,
		apply: func(m *model.ContractMilestone, now time.Time, _ *string) {
			m.SubmittedAt = &now
			m.RejectedAt = nil
			m.RejectionReason = nil
		},
	},
	model.MilestoneAccepted: {
		permission: rbac.PermissionAcceptMilestone,
		from:       []model.MilestoneStatus{model.MilestoneSubmitted},
		routingKey: mqcontracts.RoutingMilestoneAccepted,
		apply: func(m *model.ContractMilestone, now time.Time, _ *string) {
			m.AcceptedAt = &now
		},
	},
	model.MilestoneRejected: {
		permission: rbac.PermissionRejectMilestone,
		from:       []model.MilestoneStatus{model.MilestoneSubmitted},
		routingKey: mqcontracts.RoutingMilestoneRejected,
		apply: func(m *model.ContractMilestone, now time.Time, reason *string) {
			m.RejectedAt = &now
			m.RejectionReason = reason
			m.SubmittedAt = nil
		},
	},
	model.MilestoneInProgress: {
		permission: rbac.PermissionStartMilestone,
		from:       []model.MilestoneStatus{model.MilestoneFunded, model.MilestoneRejected},
		routingKey: mqcontracts.RoutingMilestoneStarted,
		apply:      clearWorkTimestamps,
	},
}

func clearWorkTimestamps(m *model.ContractMilestone, _ time.Time, _ *string) {
	m.SubmittedAt = nil
	m.RejectedAt = nil
	m.RejectionReason = nil
}

// externallyManaged are owned by the payment/dispute system.
var externallyManaged = map[model.MilestoneStatus]bool{
	model.MilestonePending:         true,
	model.MilestoneFundingRequired: true,
	model.MilestoneFunded:          true,
	model.MilestoneDisputed:        true,
	model.MilestonePaid:            true,
}

func allowedFrom(from []model.MilestoneStatus, cur model.MilestoneStatus) bool {
	for _, s := range from {
		if s == cur {
			return true
		}
	}
	return false
}

// MilestoneUpdate is a request to move a milestone to Status.
// RejectionReason is only used when Status is REJECTED.
type MilestoneUpdate struct {
	Status          model.MilestoneStatus
	RejectionReason string
}

// UpdateMilestoneStatus is the single path for caller-driven milestone
// transitions. Checks run in this order: milestone exists, target is a
// caller-reachable state, the actor holds the required side of the
// contract, the current state allows the move. The row is updated with a
// compare-and-set on the status it was read with.
func (e *Engine) UpdateMilestoneStatus(ctx context.Context, actor Actor, milestoneID int64, upd MilestoneUpdate) (_ *model.ContractMilestone, err error) {
	const op = "contract.UpdateMilestoneStatus"
	defer func() { metrics.IncrementMilestoneTransition(string(upd.Status), resultLabel(err)) }()

	log := e.log(ctx).With(
		zap.Int64("milestone_id", milestoneID),
		zap.Int64("user_id", actor.ID),
		zap.String("to", string(upd.Status)),
	)
	log.Info("Updating milestone status")

	var out *model.ContractMilestone
	err = e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		m, err := tx.Contracts().GetMilestoneForUpdate(ctx, milestoneID)
		if err != nil {
			return storageErr(op, "milestone", err)
		}

		if externallyManaged[upd.Status] {
			return errorf(KindInvalid, op, "status %s is managed by the payment system", upd.Status)
		}
		rule, ok := milestoneRules[upd.Status]
		if !ok {
			return errorf(KindInvalid, op, "unknown milestone status %q", upd.Status)
		}

		c, err := tx.Contracts().GetContract(ctx, m.ContractID)
		if err != nil {
			return storageErr(op, "contract", err)
		}
		roles := rbac.PartyRoles(actor.ID, c.ClientID, c.FreelancerID)
		if err := rbac.CheckPermission(actor.ID, roles, rule.permission); err != nil {
			return &Error{Kind: KindForbidden, Op: op, Msg: "actor may not move milestone to " + string(upd.Status), Err: err}
		}

		if !allowedFrom(rule.from, m.Status) {
			return errorf(KindInvalid, op, "cannot move milestone from %s to %s", m.Status, upd.Status)
		}

		var reason *string
		if upd.Status == model.MilestoneRejected {
			if r := strings.TrimSpace(upd.RejectionReason); r != "" {
				reason = &r
			}
		}

		from := m.Status
		m.Status = upd.Status
		rule.apply(m, e.now(), reason)
		if err := tx.Contracts().UpdateMilestone(ctx, m, from); err != nil {
			return storageErr(op, "milestone", err)
		}

		payload := mqcontracts.MilestoneEventPayload{
			MilestoneID: m.ID,
			ContractID:  m.ContractID,
			From:        string(from),
			To:          string(m.Status),
			Amount:      m.Amount,
			Currency:    m.Currency,
			ActorID:     actor.ID,
			OccurredAt:  m.UpdatedAt,
			TraceID:     trace.FromContext(ctx),
		}
		if reason != nil {
			payload.RejectionReason = *reason
		}
		if err := tx.Events().Emit(ctx, mqcontracts.AggregateMilestone, m.ID, rule.routingKey, payload); err != nil {
			return storageErr(op, "outbox event", err)
		}

		out = m
		return nil
	})
	if err != nil {
		err = storageErr(op, "milestone", err)
		log.Warn("Milestone status update rejected", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	log.Info("Milestone status updated", zap.Int64("contract_id", out.ContractID))
	return out, nil
}

// SubmitMilestone moves an IN_PROGRESS or REJECTED milestone to SUBMITTED (freelancer).
func (e *Engine) SubmitMilestone(ctx context.Context, actor Actor, milestoneID int64) (*model.ContractMilestone, error) {
	return e.UpdateMilestoneStatus(ctx, actor, milestoneID, MilestoneUpdate{Status: model.MilestoneSubmitted})
}

// AcceptMilestone moves a SUBMITTED milestone to ACCEPTED (client).
func (e *Engine) AcceptMilestone(ctx context.Context, actor Actor, milestoneID int64) (*model.ContractMilestone, error) {
	return e.UpdateMilestoneStatus(ctx, actor, milestoneID, MilestoneUpdate{Status: model.MilestoneAccepted})
}

// RejectMilestone moves a SUBMITTED milestone to REJECTED with reason (client).
func (e *Engine) RejectMilestone(ctx context.Context, actor Actor, milestoneID int64, reason string) (*model.ContractMilestone, error) {
	return e.UpdateMilestoneStatus(ctx, actor, milestoneID, MilestoneUpdate{Status: model.MilestoneRejected, RejectionReason: reason})
}

// StartMilestone moves a FUNDED or REJECTED milestone to IN_PROGRESS (freelancer).
func (e *Engine) StartMilestone(ctx context.Context, actor Actor, milestoneID int64) (*model.ContractMilestone, error) {
	return e.UpdateMilestoneStatus(ctx, actor, milestoneID, MilestoneUpdate{Status: model.MilestoneInProgress})
}

// AddMilestoneInput describes a milestone the client adds to a running
// contract. A nil OrderIndex appends after the last milestone.
type AddMilestoneInput struct {
	Title       string
	Description string
	Amount      int64
	DueDate     *time.Time
	OrderIndex  *int
}

// AddMilestone appends a FUNDING_REQUIRED milestone to an ACTIVE contract.
// Only the contract's client may add milestones.
func (e *Engine) AddMilestone(ctx context.Context, actor Actor, contractID int64, in AddMilestoneInput) (*model.ContractMilestone, error) {
	const op = "contract.AddMilestone"
	log := e.log(ctx).With(zap.Int64("contract_id", contractID), zap.Int64("user_id", actor.ID))
	log.Info("Adding milestone to contract")

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, newErr(KindInvalid, op, "title is required")
	}
	if in.Amount <= 0 {
		return nil, newErr(KindInvalid, op, "amount must be positive")
	}

	var out *model.ContractMilestone
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.Contracts().GetContractForUpdate(ctx, contractID)
		if err != nil {
			return storageErr(op, "contract", err)
		}
		roles := rbac.PartyRoles(actor.ID, c.ClientID, c.FreelancerID)
		if err := rbac.CheckPermission(actor.ID, roles, rbac.PermissionAddMilestone); err != nil {
			return &Error{Kind: KindForbidden, Op: op, Msg: "only the contract client can add milestones", Err: err}
		}
		if c.Status != model.ContractActive {
			return errorf(KindInvalid, op, "cannot add milestones to a %s contract", c.Status)
		}

		order := 0
		if in.OrderIndex != nil {
			order = *in.OrderIndex
		} else {
			last, err := tx.Contracts().MaxMilestoneOrder(ctx, c.ID)
			if err != nil {
				return storageErr(op, "milestone", err)
			}
			order = last + 1
		}

		m := &model.ContractMilestone{
			ContractID:  c.ID,
			Title:       title,
			Description: in.Description,
			Amount:      in.Amount,
			Currency:    model.CurrencyUSD,
			Status:      model.MilestoneFundingRequired,
			DueDate:     in.DueDate,
			OrderIndex:  order,
		}
		if err := tx.Contracts().InsertMilestones(ctx, []*model.ContractMilestone{m}); err != nil {
			return storageErr(op, "milestone", err)
		}
		if err := tx.Events().Emit(ctx, mqcontracts.AggregateMilestone, m.ID, mqcontracts.RoutingMilestoneAdded,
			mqcontracts.MilestoneEventPayload{
				MilestoneID: m.ID,
				ContractID:  c.ID,
				To:          string(m.Status),
				Amount:      m.Amount,
				Currency:    m.Currency,
				ActorID:     actor.ID,
				OccurredAt:  m.CreatedAt,
				TraceID:     trace.FromContext(ctx),
			}); err != nil {
			return storageErr(op, "outbox event", err)
		}
		out = m
		return nil
	})
	if err != nil {
		err = storageErr(op, "milestone", err)
		log.Warn("Add milestone rejected", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	log.Info("Milestone added", zap.Int64("milestone_id", out.ID), zap.Int("order_index", out.OrderIndex))
	return out, nil
}

// ListContractMilestones returns the contract's milestones in order. Only
// the contract's parties may read them.
func (e *Engine) ListContractMilestones(ctx context.Context, actor Actor, contractID int64) ([]model.ContractMilestone, error) {
	const op = "contract.ListContractMilestones"

	var out []model.ContractMilestone
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.Contracts().GetContract(ctx, contractID)
		if err != nil {
			return storageErr(op, "contract", err)
		}
		if err := checkParty(op, actor, c); err != nil {
			return err
		}
		out, err = tx.Contracts().ListMilestones(ctx, c.ID)
		return storageErr(op, "milestone", err)
	})
	if err != nil {
		return nil, storageErr(op, "milestone", err)
	}
	return out, nil
}

func checkParty(op string, actor Actor, c *model.Contract) error {
	roles := rbac.PartyRoles(actor.ID, c.ClientID, c.FreelancerID)
	if err := rbac.CheckPermission(actor.ID, roles, rbac.PermissionViewContract); err != nil {
		return &Error{Kind: KindForbidden, Op: op, Msg: "access denied", Err: err}
	}
	return nil
}
