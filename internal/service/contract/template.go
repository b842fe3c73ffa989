package contract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/repository"
	"contractsvc/pkg/rbac"
)

// JobMilestoneInput is a client-authored milestone template for a job.
type JobMilestoneInput struct {
	Title           string
	Description     string
	SuggestedAmount *int64
	EstimatedDays   *int
	OrderIndex      int
}

// ProposalMilestoneInput is one priced line of a freelancer's offer.
type ProposalMilestoneInput struct {
	Title       string
	Description string
	Amount      int64
	DueDate     *time.Time
	OrderIndex  int
}

// ListJobMilestones returns a job's templates in order. Templates are
// visible to every authenticated user so freelancers can price against them.
func (e *Engine) ListJobMilestones(ctx context.Context, jobID int64) ([]model.JobMilestone, error) {
	const op = "contract.ListJobMilestones"

	var out []model.JobMilestone
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Jobs().GetJob(ctx, jobID); err != nil {
			return storageErr(op, "job", err)
		}
		var err error
		out, err = tx.Templates().ListJobMilestones(ctx, jobID)
		return storageErr(op, "job milestones", err)
	})
	if err != nil {
		return nil, storageErr(op, "job milestones", err)
	}
	return out, nil
}

// CreateJobMilestone adds a template to a job. Only the job's client may.
func (e *Engine) CreateJobMilestone(ctx context.Context, actor Actor, jobID int64, in JobMilestoneInput) (*model.JobMilestone, error) {
	const op = "contract.CreateJobMilestone"
	log := e.log(ctx).With(zap.Int64("job_id", jobID), zap.Int64("user_id", actor.ID))

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, newErr(KindInvalid, op, "title is required")
	}
	if in.SuggestedAmount != nil && *in.SuggestedAmount < 0 {
		return nil, newErr(KindInvalid, op, "suggested amount must not be negative")
	}
	if in.EstimatedDays != nil && *in.EstimatedDays <= 0 {
		return nil, newErr(KindInvalid, op, "estimated days must be positive")
	}

	var out *model.JobMilestone
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		job, err := tx.Jobs().GetJob(ctx, jobID)
		if err != nil {
			return storageErr(op, "job", err)
		}
		roles := rbac.PartyRoles(actor.ID, job.ClientID, 0)
		if err := rbac.CheckPermission(actor.ID, roles, rbac.PermissionManageJobTemplates); err != nil {
			return &Error{Kind: KindForbidden, Op: op, Msg: "only the job client can edit its milestones", Err: err}
		}
		m := &model.JobMilestone{
			JobID:           job.ID,
			Title:           title,
			Description:     in.Description,
			SuggestedAmount: in.SuggestedAmount,
			Currency:        model.CurrencyUSD,
			EstimatedDays:   in.EstimatedDays,
			OrderIndex:      in.OrderIndex,
		}
		if err := tx.Templates().CreateJobMilestone(ctx, m); err != nil {
			return storageErr(op, "job milestone", err)
		}
		out = m
		return nil
	})
	if err != nil {
		err = storageErr(op, "job milestone", err)
		log.Warn("Create job milestone rejected", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	log.Info("Job milestone created", zap.Int64("job_milestone_id", out.ID))
	return out, nil
}

// ListProposalMilestones returns the offer lines of a proposal. The
// proposal's freelancer and the job's client may read them.
func (e *Engine) ListProposalMilestones(ctx context.Context, actor Actor, proposalID int64) ([]model.ProposalMilestone, error) {
	const op = "contract.ListProposalMilestones"

	var out []model.ProposalMilestone
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.Proposals().GetProposal(ctx, proposalID)
		if err != nil {
			return storageErr(op, "proposal", err)
		}
		job, err := tx.Jobs().GetJob(ctx, p.JobID)
		if err != nil {
			return storageErr(op, "job", err)
		}
		if actor.ID == 0 || (actor.ID != p.FreelancerID && actor.ID != job.ClientID) {
			return newErr(KindForbidden, op, "access denied")
		}
		out, err = tx.Templates().ListProposalMilestones(ctx, p.ID)
		return storageErr(op, "proposal milestones", err)
	})
	if err != nil {
		return nil, storageErr(op, "proposal milestones", err)
	}
	return out, nil
}

// CreateProposalMilestone adds a priced line to a proposal. Only the
// proposal's freelancer may, and only while the proposal is still open.
func (e *Engine) CreateProposalMilestone(ctx context.Context, actor Actor, proposalID int64, in ProposalMilestoneInput) (*model.ProposalMilestone, error) {
	const op = "contract.CreateProposalMilestone"
	log := e.log(ctx).With(zap.Int64("proposal_id", proposalID), zap.Int64("user_id", actor.ID))

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, newErr(KindInvalid, op, "title is required")
	}
	if in.Amount <= 0 {
		return nil, newErr(KindInvalid, op, "amount must be positive")
	}

	var out *model.ProposalMilestone
	err := e.uow.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.Proposals().GetProposal(ctx, proposalID)
		if err != nil {
			return storageErr(op, "proposal", err)
		}
		roles := rbac.PartyRoles(actor.ID, 0, p.FreelancerID)
		if err := rbac.CheckPermission(actor.ID, roles, rbac.PermissionManageProposalOffers); err != nil {
			return &Error{Kind: KindForbidden, Op: op, Msg: "only the proposal freelancer can edit its milestones", Err: err}
		}
		// 已签约的提案是合同的快照来源，不再允许修改
		if p.Status == model.ProposalContracted {
			return errorf(KindInvalid, op, "proposal %d is already contracted", p.ID)
		}
		m := &model.ProposalMilestone{
			ProposalID:  p.ID,
			Title:       title,
			Description: in.Description,
			Amount:      in.Amount,
			Currency:    model.CurrencyUSD,
			DueDate:     in.DueDate,
			OrderIndex:  in.OrderIndex,
		}
		if err := tx.Templates().CreateProposalMilestone(ctx, m); err != nil {
			return storageErr(op, "proposal milestone", err)
		}
		out = m
		return nil
	})
	if err != nil {
		err = storageErr(op, "proposal milestone", err)
		log.Warn("Create proposal milestone rejected", zap.String("kind", string(KindOf(err))), zap.Error(err))
		return nil, err
	}

	log.Info("Proposal milestone created", zap.Int64("proposal_milestone_id", out.ID))
	return out, nil
}
