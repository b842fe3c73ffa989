package contract

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/model"
	"contractsvc/internal/repository"
	"contractsvc/internal/workspace"
	"contractsvc/pkg/metrics"
	"contractsvc/pkg/trace"
)

// CreateInput describes a contract to create from a proposal. Nil pointers
// fall back to the proposal total and today's date.
type CreateInput struct {
	JobID       int64
	ProposalID  int64
	TotalAmount *int64
	StartDate   *time.Time
	EndDate     *time.Time
	Terms       any
}

// CreateContract converts the proposal into an ACTIVE contract, snapshots
// the proposal milestones as PENDING contract milestones and moves the
// proposal to CONTRACTED and the job to IN_PROGRESS, all in one
// transaction. The workspace room is requested after commit.
func (e *Engine) CreateContract(ctx context.Context, in CreateInput) (_ *View, err error) {
	const op = "contract.CreateContract"
	defer func() { metrics.IncrementContractCreated(resultLabel(err)) }()

	log := e.log(ctx).With(zap.Int64("job_id", in.JobID), zap.Int64("proposal_id", in.ProposalID))
	log.Info("Creating contract from proposal")

	if in.TotalAmount != nil && *in.TotalAmount < 0 {
		return nil, newErr(KindInvalid, op, "total amount must not be negative")
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return nil, newErr(KindInvalid, op, "end date is before start date")
	}

	var terms string
	if in.Terms != nil {
		raw, mErr := json.Marshal(in.Terms)
		if mErr != nil {
			return nil, &Error{Kind: KindInternal, Op: op, Msg: "failed to serialize contract terms", Err: mErr}
		}
		terms = string(raw)
	}

	var (
		view *View
		room workspace.RoomRequest
	)
	err = e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		job, err := tx.Jobs().GetJob(ctx, in.JobID)
		if err != nil {
			return storageErr(op, "job", err)
		}
		proposal, err := tx.Proposals().GetProposal(ctx, in.ProposalID)
		if err != nil {
			return storageErr(op, "proposal", err)
		}
		if proposal.JobID != job.ID {
			return errorf(KindInvalid, op, "proposal %d does not belong to job %d", proposal.ID, job.ID)
		}
		if job.Status != model.JobOpen {
			return errorf(KindInvalid, op, "job %d is %s, not OPEN", job.ID, job.Status)
		}
		// job 被外部重新打开时，已签约的 proposal 仍不能再签；并发竞争由唯一索引判定
		exists, err := tx.Contracts().ExistsForProposal(ctx, proposal.ID)
		if err != nil {
			return storageErr(op, "contract", err)
		}
		if exists {
			return errorf(KindConflict, op, "proposal %d already has a contract", proposal.ID)
		}

		c := &model.Contract{
			JobID:        job.ID,
			ProposalID:   proposal.ID,
			ClientID:     job.ClientID,
			FreelancerID: proposal.FreelancerID,
			TotalAmount:  proposal.TotalAmount,
			Currency:     model.CurrencyUSD,
			Status:       model.ContractActive,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
			PaymentModel: model.PaymentModelFixed,
			TermsJSON:    terms,
		}
		if in.TotalAmount != nil {
			c.TotalAmount = *in.TotalAmount
		}
		if c.StartDate == nil {
			today := truncateToDate(e.now())
			c.StartDate = &today
		}
		if err := tx.Contracts().InsertContract(ctx, c); err != nil {
			return storageErr(op, "contract", err)
		}

		templates, err := tx.Templates().ListProposalMilestones(ctx, proposal.ID)
		if err != nil {
			return storageErr(op, "proposal milestones", err)
		}
		milestones := make([]*model.ContractMilestone, 0, len(templates))
		for _, t := range templates {
			milestones = append(milestones, &model.ContractMilestone{
				ContractID:  c.ID,
				Title:       t.Title,
				Description: t.Description,
				Amount:      t.Amount,
				Currency:    model.CurrencyUSD,
				Status:      model.MilestonePending,
				DueDate:     t.DueDate,
				OrderIndex:  t.OrderIndex,
			})
		}
		if len(milestones) == 0 {
			log.Warn("Proposal has no milestones, contract created without milestones")
		} else if err := tx.Contracts().InsertMilestones(ctx, milestones); err != nil {
			return storageErr(op, "contract milestone", err)
		}

		proposal.Status = model.ProposalContracted
		if err := tx.Proposals().SaveProposal(ctx, proposal); err != nil {
			return storageErr(op, "proposal", err)
		}
		job.Status = model.JobInProgress
		if err := tx.Jobs().SaveJob(ctx, job); err != nil {
			return storageErr(op, "job", err)
		}

		if err := tx.Events().Emit(ctx, mqcontracts.AggregateContract, c.ID, mqcontracts.RoutingContractCreated,
			mqcontracts.ContractCreatedPayload{
				ContractID:     c.ID,
				JobID:          c.JobID,
				ProposalID:     c.ProposalID,
				ClientID:       c.ClientID,
				FreelancerID:   c.FreelancerID,
				TotalAmount:    c.TotalAmount,
				Currency:       c.Currency,
				MilestoneCount: len(milestones),
				CreatedAt:      c.CreatedAt,
				TraceID:        trace.FromContext(ctx),
			}); err != nil {
			return storageErr(op, "outbox event", err)
		}

		ms := make([]model.ContractMilestone, len(milestones))
		for i, m := range milestones {
			ms[i] = *m
		}
		view = newView(*c, job.Title, ms, true)
		room = workspace.RoomRequest{
			ContractID:   c.ID,
			JobTitle:     job.Title,
			ClientID:     c.ClientID,
			FreelancerID: c.FreelancerID,
		}
		return nil
	})
	if err != nil {
		err = storageErr(op, "contract", err)
		log.Warn("Contract creation failed", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	log.Info("Contract created",
		zap.Int64("contract_id", view.ID),
		zap.Int("milestones", view.TotalMilestones),
	)
	e.provisionRoom(ctx, room)
	return view, nil
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
