package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence/memory"
)

func TestStoreLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, &models.Workflow{
		ID:          "wf-1",
		Name:        "Budgeted Workflow",
		TriggerType: models.TriggerRecordCreated,
		IsActive:    true,
	}))

	limiter := NewStoreLimiter(store)

	for range 2 {
		ok, err := limiter.Allow(ctx, "wf-1", 2)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "wf-1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreLimiter_ResetsAcrossDays(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SaveWorkflow(ctx, &models.Workflow{
		ID:          "wf-1",
		Name:        "Budgeted Workflow",
		TriggerType: models.TriggerRecordCreated,
		IsActive:    true,
	}))

	limiter := NewStoreLimiter(store)

	day := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return day }

	ok, err := limiter.Allow(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	limiter.now = func() time.Time { return day.Add(24 * time.Hour) }

	ok, err = limiter.Allow(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
