package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"contractsvc/internal/repository"
	"contractsvc/pkg/outbox"
)

// eventSink writes domain events to the outbox table inside the caller's
// transaction; the worker's dispatcher publishes them after commit.
type eventSink struct {
	tx     pgx.Tx
	repo   *outbox.Repository
	logger *zap.Logger
}

func (s *eventSink) Emit(ctx context.Context, aggregateType string, aggregateID int64, routingKey string, payload any) error {
	if err := outbox.InsertEventInTx(ctx, s.tx, s.repo, aggregateType, &aggregateID, routingKey, payload); err != nil {
		s.logger.Error("Failed to write outbox event",
			zap.String("routing_key", routingKey),
			zap.Int64("aggregate_id", aggregateID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

var _ repository.EventSink = (*eventSink)(nil)
