package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduper creates a deduper; logger may be nil.
func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for handler + messageID.
// It returns true the FIRST time a message is seen and false for duplicates.
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, messageID string) bool {
	key := FormatDedupKey(handler, messageID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，幂等由数据库的 compare-and-set 兜底
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("handler", handler),
				zap.String("message_id", messageID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("message_id", messageID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the dedup key so a message that failed can be processed again.
func (d *Deduper) Release(ctx context.Context, handler string, messageID string) {
	if err := d.rdb.Del(ctx, FormatDedupKey(handler, messageID)).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("handler", handler),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

func FormatDedupKey(handler string, messageID string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, messageID)
}
