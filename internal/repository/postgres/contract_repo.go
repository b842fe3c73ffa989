package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"contractsvc/internal/model"
	"contractsvc/internal/repository"
)

type contractRepo struct {
	tx     pgx.Tx
	logger *zap.Logger
}

const contractColumns = `id, job_id, proposal_id, client_id, freelancer_id, total_amount_cents, currency, status,
		       start_date, end_date, payment_model, terms_json, created_at, updated_at`

const milestoneColumns = `id, contract_id, title, description, amount_cents, currency, status, due_date, order_index,
		       submitted_at, accepted_at, rejected_at, rejection_reason, created_at, updated_at`

func scanContract(row pgx.Row) (*model.Contract, error) {
	var c model.Contract
	var terms *string
	err := row.Scan(
		&c.ID,
		&c.JobID,
		&c.ProposalID,
		&c.ClientID,
		&c.FreelancerID,
		&c.TotalAmount,
		&c.Currency,
		&c.Status,
		&c.StartDate,
		&c.EndDate,
		&c.PaymentModel,
		&terms,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if terms != nil {
		c.TermsJSON = *terms
	}
	return &c, nil
}

func scanMilestone(row pgx.Row) (*model.ContractMilestone, error) {
	var m model.ContractMilestone
	err := row.Scan(
		&m.ID,
		&m.ContractID,
		&m.Title,
		&m.Description,
		&m.Amount,
		&m.Currency,
		&m.Status,
		&m.DueDate,
		&m.OrderIndex,
		&m.SubmittedAt,
		&m.AcceptedAt,
		&m.RejectedAt,
		&m.RejectionReason,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *contractRepo) ExistsForProposal(ctx context.Context, proposalID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM contracts WHERE proposal_id = $1)
	`, proposalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing contract: %w", err)
	}
	return exists, nil
}

func (r *contractRepo) InsertContract(ctx context.Context, c *model.Contract) error {
	r.logger.Debug("Inserting contract",
		zap.Int64("job_id", c.JobID),
		zap.Int64("proposal_id", c.ProposalID),
	)

	var terms *string
	if c.TermsJSON != "" {
		terms = &c.TermsJSON
	}

	query := `
		INSERT INTO contracts (job_id, proposal_id, client_id, freelancer_id, total_amount_cents, currency,
		                       status, start_date, end_date, payment_model, terms_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	err := r.tx.QueryRow(ctx, query,
		c.JobID,
		c.ProposalID,
		c.ClientID,
		c.FreelancerID,
		c.TotalAmount,
		c.Currency,
		c.Status,
		c.StartDate,
		c.EndDate,
		c.PaymentModel,
		terms,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert contract",
			zap.Int64("job_id", c.JobID),
			zap.Int64("proposal_id", c.ProposalID),
			zap.Error(err),
		)
		return fmt.Errorf("insert contract: %w", mapErr(err))
	}

	r.logger.Info("Contract inserted", zap.Int64("contract_id", c.ID))
	return nil
}

func (r *contractRepo) GetContract(ctx context.Context, id int64) (*model.Contract, error) {
	c, err := scanContract(r.tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (r *contractRepo) GetContractForUpdate(ctx context.Context, id int64) (*model.Contract, error) {
	c, err := scanContract(r.tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (r *contractRepo) ListContractsByUser(ctx context.Context, userID int64) ([]model.Contract, error) {
	query := `
		SELECT ` + contractColumns + `
		FROM contracts
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.tx.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *contractRepo) UpdateContractStatus(ctx context.Context, c *model.Contract, from model.ContractStatus) error {
	r.logger.Debug("Updating contract status",
		zap.Int64("contract_id", c.ID),
		zap.String("from", string(from)),
		zap.String("to", string(c.Status)),
	)

	query := `
		UPDATE contracts
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at
	`
	err := r.tx.QueryRow(ctx, query, c.ID, from, c.Status).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Warn("Contract status changed concurrently", zap.Int64("contract_id", c.ID))
		return repository.ErrStale
	}
	if err != nil {
		r.logger.Error("Failed to update contract status", zap.Int64("contract_id", c.ID), zap.Error(err))
		return fmt.Errorf("update contract status: %w", mapErr(err))
	}

	r.logger.Info("Contract status updated",
		zap.Int64("contract_id", c.ID),
		zap.String("status", string(c.Status)),
	)
	return nil
}

// InsertMilestones inserts all rows in one round trip.
func (r *contractRepo) InsertMilestones(ctx context.Context, ms []*model.ContractMilestone) error {
	if len(ms) == 0 {
		return nil
	}
	r.logger.Debug("Inserting contract milestones",
		zap.Int64("contract_id", ms[0].ContractID),
		zap.Int("count", len(ms)),
	)

	query := `
		INSERT INTO contract_milestones (contract_id, title, description, amount_cents, currency, status, due_date, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	batch := &pgx.Batch{}
	for _, m := range ms {
		batch.Queue(query, m.ContractID, m.Title, m.Description, m.Amount, m.Currency, m.Status, m.DueDate, m.OrderIndex)
	}

	results := r.tx.SendBatch(ctx, batch)
	for _, m := range ms {
		if err := results.QueryRow().Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			_ = results.Close()
			r.logger.Error("Failed to insert contract milestone",
				zap.Int64("contract_id", m.ContractID),
				zap.Int("order_index", m.OrderIndex),
				zap.Error(err),
			)
			return fmt.Errorf("insert contract milestone: %w", mapErr(err))
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("insert contract milestones: %w", mapErr(err))
	}

	r.logger.Info("Contract milestones inserted",
		zap.Int64("contract_id", ms[0].ContractID),
		zap.Int("count", len(ms)),
	)
	return nil
}

func (r *contractRepo) ListMilestones(ctx context.Context, contractID int64) ([]model.ContractMilestone, error) {
	query := `
		SELECT ` + milestoneColumns + `
		FROM contract_milestones
		WHERE contract_id = $1
		ORDER BY order_index ASC, id ASC
	`
	rows, err := r.tx.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contract milestones: %w", err)
	}
	defer rows.Close()

	var out []model.ContractMilestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract milestone: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *contractRepo) GetMilestoneForUpdate(ctx context.Context, id int64) (*model.ContractMilestone, error) {
	m, err := scanMilestone(r.tx.QueryRow(ctx, `SELECT `+milestoneColumns+` FROM contract_milestones WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return m, nil
}

func (r *contractRepo) UpdateMilestone(ctx context.Context, m *model.ContractMilestone, from model.MilestoneStatus) error {
	r.logger.Debug("Updating milestone",
		zap.Int64("milestone_id", m.ID),
		zap.String("from", string(from)),
		zap.String("to", string(m.Status)),
	)

	query := `
		UPDATE contract_milestones
		SET status = $3, submitted_at = $4, accepted_at = $5, rejected_at = $6, rejection_reason = $7, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at
	`
	err := r.tx.QueryRow(ctx, query,
		m.ID, from, m.Status, m.SubmittedAt, m.AcceptedAt, m.RejectedAt, m.RejectionReason,
	).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Warn("Milestone status changed concurrently", zap.Int64("milestone_id", m.ID))
		return repository.ErrStale
	}
	if err != nil {
		r.logger.Error("Failed to update milestone", zap.Int64("milestone_id", m.ID), zap.Error(err))
		return fmt.Errorf("update milestone: %w", mapErr(err))
	}

	r.logger.Info("Milestone updated",
		zap.Int64("milestone_id", m.ID),
		zap.String("status", string(m.Status)),
	)
	return nil
}

func (r *contractRepo) MaxMilestoneOrder(ctx context.Context, contractID int64) (int, error) {
	var maxOrder int
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(order_index), 0) FROM contract_milestones WHERE contract_id = $1
	`, contractID).Scan(&maxOrder)
	if err != nil {
		return 0, fmt.Errorf("failed to read milestone order: %w", err)
	}
	return maxOrder, nil
}

var _ repository.ContractStore = (*contractRepo)(nil)
