package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/repository"
)

type jobRepo struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (r *jobRepo) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	query := `
		SELECT id, client_id, title, status, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var j model.Job
	err := r.tx.QueryRow(ctx, query, id).Scan(
		&j.ID,
		&j.ClientID,
		&j.Title,
		&j.Status,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &j, nil
}

func (r *jobRepo) SaveJob(ctx context.Context, job *model.Job) error {
	r.logger.Debug("Updating job status",
		zap.Int64("job_id", job.ID),
		zap.String("status", string(job.Status)),
	)

	query := `
		UPDATE jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	if err := r.tx.QueryRow(ctx, query, job.ID, job.Status).Scan(&job.UpdatedAt); err != nil {
		r.logger.Error("Failed to update job", zap.Int64("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("save job %d: %w", job.ID, mapErr(err))
	}
	return nil
}

type proposalRepo struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (r *proposalRepo) GetProposal(ctx context.Context, id int64) (*model.Proposal, error) {
	query := `
		SELECT id, job_id, freelancer_id, total_amount_cents, status, created_at, updated_at
		FROM proposals
		WHERE id = $1
	`
	var p model.Proposal
	err := r.tx.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.JobID,
		&p.FreelancerID,
		&p.TotalAmount,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *proposalRepo) SaveProposal(ctx context.Context, p *model.Proposal) error {
	r.logger.Debug("Updating proposal status",
		zap.Int64("proposal_id", p.ID),
		zap.String("status", string(p.Status)),
	)

	query := `
		UPDATE proposals
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	if err := r.tx.QueryRow(ctx, query, p.ID, p.Status).Scan(&p.UpdatedAt); err != nil {
		r.logger.Error("Failed to update proposal", zap.Int64("proposal_id", p.ID), zap.Error(err))
		return fmt.Errorf("save proposal %d: %w", p.ID, mapErr(err))
	}
	return nil
}

var (
	_ repository.JobStore      = (*jobRepo)(nil)
	_ repository.ProposalStore = (*proposalRepo)(nil)
)
