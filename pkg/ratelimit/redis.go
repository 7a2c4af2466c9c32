package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// counterTTL keeps day buckets around long enough to survive clock skew
// between instances before Redis reclaims them.
const counterTTL = 48 * time.Hour

// RedisLimiter counts executions in Redis day buckets, shared by every
// engine instance. The counter may exceed maxPerDay by the number of denied
// probes; grants never do.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *slog.Logger
	now       func() time.Time
}

// NewRedisLimiter creates a limiter on an existing Redis client.
func NewRedisLimiter(client redis.UniversalClient, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		keyPrefix: "flowengine:ratelimit",
		logger:    logger.With("module", "ratelimit"),
		now:       time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, workflowID string, maxPerDay int) (bool, error) {
	key := l.key(workflowID, l.now().UTC().Format(DateFormat))

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		err := l.client.Expire(ctx, key, counterTTL).Err()
		if err != nil {
			l.logger.WarnContext(ctx, "failed to set rate limit counter TTL", "key", key, "error", err)
		}
	}

	if count > int64(maxPerDay) {
		return false, nil
	}

	return true, nil
}

func (l *RedisLimiter) key(workflowID, date string) string {
	return fmt.Sprintf("%s:%s:%s", l.keyPrefix, workflowID, date)
}
