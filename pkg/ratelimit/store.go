package ratelimit

import (
	"context"
	"time"

	"github.com/helixcrm/flowengine/pkg/persistence"
)

// StoreLimiter counts against the workflow row itself, using the store's
// conditional increment. Suitable when all engine instances share one
// database.
type StoreLimiter struct {
	store persistence.Persistence
	now   func() time.Time
}

// NewStoreLimiter creates a limiter backed by the persistence layer.
func NewStoreLimiter(store persistence.Persistence) *StoreLimiter {
	return &StoreLimiter{
		store: store,
		now:   time.Now,
	}
}

func (l *StoreLimiter) Allow(ctx context.Context, workflowID string, maxPerDay int) (bool, error) {
	date := l.now().UTC().Format(DateFormat)

	return l.store.IncrementDailyExecutions(ctx, workflowID, date, maxPerDay)
}
