// Package ratelimit enforces per-workflow daily execution budgets.
package ratelimit

import (
	"context"
	"time"
)

// DateFormat is the day-bucket key format, UTC.
const DateFormat = "2006-01-02"

// Limiter grants or denies one execution slot against a workflow's daily
// budget. Allow must be atomic under concurrent callers: the number of grants
// for one workflow and day never exceeds maxPerDay.
type Limiter interface {
	Allow(ctx context.Context, workflowID string, maxPerDay int) (bool, error)
}

// Today returns the current UTC day bucket.
func Today() string {
	return time.Now().UTC().Format(DateFormat)
}
