package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/repository"
)

type templateRepo struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (r *templateRepo) ListProposalMilestones(ctx context.Context, proposalID int64) ([]model.ProposalMilestone, error) {
	query := `
		SELECT id, proposal_id, title, description, amount_cents, currency, due_date, order_index, created_at, updated_at
		FROM proposal_milestones
		WHERE proposal_id = $1
		ORDER BY order_index ASC, id ASC
	`
	rows, err := r.tx.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposal milestones: %w", err)
	}
	defer rows.Close()

	var out []model.ProposalMilestone
	for rows.Next() {
		var m model.ProposalMilestone
		if err := rows.Scan(
			&m.ID,
			&m.ProposalID,
			&m.Title,
			&m.Description,
			&m.Amount,
			&m.Currency,
			&m.DueDate,
			&m.OrderIndex,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan proposal milestone: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *templateRepo) ListJobMilestones(ctx context.Context, jobID int64) ([]model.JobMilestone, error) {
	query := `
		SELECT id, job_id, title, description, suggested_amount_cents, currency, estimated_days, order_index, created_at, updated_at
		FROM job_milestones
		WHERE job_id = $1
		ORDER BY order_index ASC, id ASC
	`
	rows, err := r.tx.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job milestones: %w", err)
	}
	defer rows.Close()

	var out []model.JobMilestone
	for rows.Next() {
		var m model.JobMilestone
		if err := rows.Scan(
			&m.ID,
			&m.JobID,
			&m.Title,
			&m.Description,
			&m.SuggestedAmount,
			&m.Currency,
			&m.EstimatedDays,
			&m.OrderIndex,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job milestone: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *templateRepo) CreateJobMilestone(ctx context.Context, m *model.JobMilestone) error {
	r.logger.Debug("Creating job milestone", zap.Int64("job_id", m.JobID), zap.String("title", m.Title))

	query := `
		INSERT INTO job_milestones (job_id, title, description, suggested_amount_cents, currency, estimated_days, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.tx.QueryRow(ctx, query,
		m.JobID, m.Title, m.Description, m.SuggestedAmount, m.Currency, m.EstimatedDays, m.OrderIndex,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create job milestone", zap.Int64("job_id", m.JobID), zap.Error(err))
		return fmt.Errorf("create job milestone: %w", mapErr(err))
	}

	r.logger.Info("Job milestone created", zap.Int64("job_id", m.JobID), zap.Int64("milestone_id", m.ID))
	return nil
}

func (r *templateRepo) CreateProposalMilestone(ctx context.Context, m *model.ProposalMilestone) error {
	r.logger.Debug("Creating proposal milestone", zap.Int64("proposal_id", m.ProposalID), zap.String("title", m.Title))

	query := `
		INSERT INTO proposal_milestones (proposal_id, title, description, amount_cents, currency, due_date, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.tx.QueryRow(ctx, query,
		m.ProposalID, m.Title, m.Description, m.Amount, m.Currency, m.DueDate, m.OrderIndex,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create proposal milestone", zap.Int64("proposal_id", m.ProposalID), zap.Error(err))
		return fmt.Errorf("create proposal milestone: %w", mapErr(err))
	}

	r.logger.Info("Proposal milestone created", zap.Int64("proposal_id", m.ProposalID), zap.Int64("milestone_id", m.ID))
	return nil
}

var _ repository.TemplateStore = (*templateRepo)(nil)
