package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent schema. Every statement uses IF NOT EXISTS.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	logger.Info("Applying database schema")
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		logger.Error("Failed to apply schema", zap.Error(err))
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("Database schema up to date")
	return nil
}
