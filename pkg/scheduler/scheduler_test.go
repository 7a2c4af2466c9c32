package scheduler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence/memory"
	"github.com/helixcrm/flowengine/pkg/ratelimit"
	"github.com/helixcrm/flowengine/pkg/trigger"
)

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, _ string, _ eventbus.Event) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	evaluator := trigger.NewEvaluator(testLogger(), store, ratelimit.NewStoreLimiter(store), nopPublisher{})
	scheduler := NewScheduler(testLogger(), store, evaluator)
	scheduler.now = func() time.Time { return now }

	return scheduler, store
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("0 9 * * 1-5"))
	assert.Error(t, ValidateCron("every tuesday"))
}

func TestTick_FiresDueWorkflowAndAdvancesSchedule(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	scheduler, store := newTestScheduler(t, now)

	past := now.Add(-time.Minute)
	require.NoError(t, store.SaveWorkflow(context.Background(), &models.Workflow{
		ID:           "wf_daily",
		Name:         "Daily digest",
		IsActive:     true,
		TriggerType:  models.TriggerTimeBased,
		ScheduleCron: "0 9 * * *",
		NextRunAt:    &past,
	}))

	scheduler.Tick(context.Background())

	executions, err := store.ExecutionsByWorkflow(context.Background(), "wf_daily")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.TriggerTimeBased, executions[0].TriggerType)

	workflow, err := store.WorkflowByID(context.Background(), "wf_daily")
	require.NoError(t, err)
	require.NotNil(t, workflow.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), workflow.NextRunAt.UTC())
}

func TestTick_PrimesUnscheduledWorkflow(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	scheduler, store := newTestScheduler(t, now)

	require.NoError(t, store.SaveWorkflow(context.Background(), &models.Workflow{
		ID:           "wf_fresh",
		Name:         "Fresh schedule",
		IsActive:     true,
		TriggerType:  models.TriggerTimeBased,
		ScheduleCron: "0 9 * * *",
	}))

	scheduler.Tick(context.Background())

	workflow, err := store.WorkflowByID(context.Background(), "wf_fresh")
	require.NoError(t, err)
	require.NotNil(t, workflow.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), workflow.NextRunAt.UTC())

	// Priming alone does not fire the workflow.
	executions, err := store.ExecutionsByWorkflow(context.Background(), "wf_fresh")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestTick_SkipsNotYetDueWorkflow(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	scheduler, store := newTestScheduler(t, now)

	future := now.Add(time.Hour)
	require.NoError(t, store.SaveWorkflow(context.Background(), &models.Workflow{
		ID:           "wf_later",
		Name:         "Later workflow",
		IsActive:     true,
		TriggerType:  models.TriggerTimeBased,
		ScheduleCron: "0 9 * * *",
		NextRunAt:    &future,
	}))

	scheduler.Tick(context.Background())

	executions, err := store.ExecutionsByWorkflow(context.Background(), "wf_later")
	require.NoError(t, err)
	assert.Empty(t, executions)
}
