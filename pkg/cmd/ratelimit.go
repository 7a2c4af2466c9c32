package cmd

import (
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/ratelimit"
)

// NewRateLimiter creates the daily execution limiter. With a Redis URL the
// limit is shared across instances; without one it falls back to counters
// in the workflow store.
func NewRateLimiter(redisURL string, store persistence.Persistence, logger *slog.Logger) ratelimit.Limiter {
	if redisURL == "" {
		return ratelimit.NewStoreLimiter(store)
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse Redis URL: %w", err))
	}

	return ratelimit.NewRedisLimiter(redis.NewClient(options), logger)
}
