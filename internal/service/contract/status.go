package contract

import (
	"context"
	"errors"

	"go.uber.org/zap"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/model"
	"contractsvc/internal/repository"
	"contractsvc/pkg/metrics"
	"contractsvc/pkg/rbac"
	"contractsvc/pkg/trace"
)

var contractTransitions = map[model.ContractStatus][]model.ContractStatus{
	model.ContractActive:    {model.ContractPaused, model.ContractCompleted, model.ContractCancelled, model.ContractDisputed},
	model.ContractPaused:    {model.ContractActive, model.ContractCancelled},
	model.ContractDisputed:  {model.ContractActive, model.ContractCancelled},
	model.ContractCompleted: nil,
	model.ContractCancelled: nil,
}

func isTerminal(s model.ContractStatus) bool {
	return s == model.ContractCompleted || s == model.ContractCancelled
}

// CanTransition reports whether the contract state machine allows from -> to.
func CanTransition(from, to model.ContractStatus) bool {
	for _, s := range contractTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateContractStatus moves the contract to `to`. Terminal contracts reject
// every request as INVALID whoever asks; otherwise only the contract's
// client may change status.
func (e *Engine) UpdateContractStatus(ctx context.Context, actor Actor, contractID int64, to model.ContractStatus) (_ *View, err error) {
	const op = "contract.UpdateContractStatus"
	defer func() { metrics.IncrementContractTransition(string(to), resultLabel(err)) }()

	log := e.log(ctx).With(
		zap.Int64("contract_id", contractID),
		zap.Int64("user_id", actor.ID),
		zap.String("to", string(to)),
	)
	log.Info("Updating contract status")

	var view *View
	err = e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.Contracts().GetContractForUpdate(ctx, contractID)
		if err != nil {
			return storageErr(op, "contract", err)
		}
		if isTerminal(c.Status) {
			return errorf(KindInvalid, op, "contract is %s and can no longer change", c.Status)
		}
		roles := rbac.PartyRoles(actor.ID, c.ClientID, c.FreelancerID)
		if err := rbac.CheckPermission(actor.ID, roles, rbac.PermissionUpdateContractStatus); err != nil {
			return &Error{Kind: KindForbidden, Op: op, Msg: "only the contract client can change its status", Err: err}
		}
		if !CanTransition(c.Status, to) {
			return errorf(KindInvalid, op, "invalid status transition from %s to %s", c.Status, to)
		}

		from := c.Status
		c.Status = to
		if err := tx.Contracts().UpdateContractStatus(ctx, c, from); err != nil {
			return storageErr(op, "contract", err)
		}
		if err := tx.Events().Emit(ctx, mqcontracts.AggregateContract, c.ID, mqcontracts.RoutingContractStatusChanged,
			mqcontracts.ContractStatusChangedPayload{
				ContractID: c.ID,
				From:       string(from),
				To:         string(to),
				ActorID:    actor.ID,
				ChangedAt:  c.UpdatedAt,
				TraceID:    trace.FromContext(ctx),
			}); err != nil {
			return storageErr(op, "outbox event", err)
		}

		ms, err := tx.Contracts().ListMilestones(ctx, c.ID)
		if err != nil {
			return storageErr(op, "milestone", err)
		}
		view = newView(*c, "", ms, false)
		return nil
	})
	if err != nil {
		err = storageErr(op, "contract", err)
		log.Warn("Contract status update rejected", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	log.Info("Contract status updated")
	return view, nil
}

// GetContract returns the contract with milestones and derived counts.
// Only the client or freelancer of the contract may read it.
func (e *Engine) GetContract(ctx context.Context, actor Actor, contractID int64) (*View, error) {
	const op = "contract.GetContract"

	var view *View
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.Contracts().GetContract(ctx, contractID)
		if err != nil {
			return storageErr(op, "contract", err)
		}
		if err := checkParty(op, actor, c); err != nil {
			return err
		}
		ms, err := tx.Contracts().ListMilestones(ctx, c.ID)
		if err != nil {
			return storageErr(op, "milestone", err)
		}
		title, err := lookupJobTitle(ctx, tx, op, c.JobID)
		if err != nil {
			return err
		}
		view = newView(*c, title, ms, true)
		return nil
	})
	if err != nil {
		return nil, storageErr(op, "contract", err)
	}
	return view, nil
}

// GetUserContracts lists the contracts where userID is client or
// freelancer, newest first, with counts but without milestones.
func (e *Engine) GetUserContracts(ctx context.Context, userID int64) ([]*View, error) {
	const op = "contract.GetUserContracts"

	var views []*View
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		contracts, err := tx.Contracts().ListContractsByUser(ctx, userID)
		if err != nil {
			return storageErr(op, "contract", err)
		}
		views = make([]*View, 0, len(contracts))
		for _, c := range contracts {
			ms, err := tx.Contracts().ListMilestones(ctx, c.ID)
			if err != nil {
				return storageErr(op, "milestone", err)
			}
			title, err := lookupJobTitle(ctx, tx, op, c.JobID)
			if err != nil {
				return err
			}
			views = append(views, newView(c, title, ms, false))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(op, "contract", err)
	}
	return views, nil
}

// lookupJobTitle 返回合同所属 job 的标题；job 已不存在时返回空串
func lookupJobTitle(ctx context.Context, tx repository.Tx, op string, jobID int64) (string, error) {
	job, err := tx.Jobs().GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storageErr(op, "job", err)
	}
	return job.Title, nil
}
