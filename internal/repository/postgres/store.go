// Package postgres implements the repository contracts on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"contractsvc/internal/repository"
	"contractsvc/pkg/metrics"
	"contractsvc/pkg/otel"
	"contractsvc/pkg/outbox"
	"contractsvc/pkg/util"
)

// Store is the pgx-backed repository.UnitOfWork.
type Store struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
	// maxRetryElapsed bounds how long a transaction aborted by a
	// serialization failure or deadlock is retried.
	maxRetryElapsed time.Duration
}

func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		db:              db,
		outbox:          outbox.NewRepository(db),
		logger:          logger,
		maxRetryElapsed: 2 * time.Second,
	}
}

// WithinTx implements repository.UnitOfWork. Serialization failures and
// deadlocks are retried with exponential backoff; once retries run out the
// error is reported as repository.ErrStale.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = s.maxRetryElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if util.IsSerializationFailure(err) && ctx.Err() == nil {
			s.logger.Warn("Transaction aborted by concurrent update, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))

	if err != nil && util.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", repository.ErrStale, err)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	start := time.Now()
	ctx, span := otel.DBTxSpan(ctx, "unit_of_work")
	defer func() {
		result := "commit"
		if err != nil {
			result = "rollback"
		}
		metrics.RecordDBTxDuration(result, time.Since(start))
		otel.End(span, err)
	}()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx, outbox: s.outbox, logger: s.logger}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping reports database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
	logger *zap.Logger
}

func (t *pgTx) Jobs() repository.JobStore {
	return &jobRepo{tx: t.tx, logger: t.logger}
}

func (t *pgTx) Proposals() repository.ProposalStore {
	return &proposalRepo{tx: t.tx, logger: t.logger}
}

func (t *pgTx) Templates() repository.TemplateStore {
	return &templateRepo{tx: t.tx, logger: t.logger}
}

func (t *pgTx) Contracts() repository.ContractStore {
	return &contractRepo{tx: t.tx, logger: t.logger}
}

func (t *pgTx) Events() repository.EventSink {
	return &eventSink{tx: t.tx, repo: t.outbox, logger: t.logger}
}

// mapErr converts driver errors into repository sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return repository.ErrNotFound
	case util.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
	}
	return err
}
