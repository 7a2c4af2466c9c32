package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/channels/gochannel"
	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/events"
	"github.com/helixcrm/flowengine/pkg/models"
)

func TestWorker_RunsQueuedExecution(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Worker driven workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{webhookStep("step_1", 1)},
	})

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	defer bus.Close()

	worker := NewWorker("worker-test", testLogger(), h.orchestrator, bus)

	go func() {
		_ = worker.Start(ctx)
	}()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	queued := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, "wf_test"),
		ExecutionID: execution.ID,
		TriggerType: models.TriggerRecordCreated,
	}
	require.NoError(t, bus.Publish(ctx, "wf_test", queued))

	assert.Eventually(t, func() bool {
		stored, err := h.store.ExecutionByID(ctx, execution.ID)

		return err == nil && stored.Status == models.ExecutionCompleted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWorker_HoldsUntilDispatchAt(t *testing.T) {
	h := newHarness(t)

	var waited time.Duration

	worker := NewWorker("worker-test", testLogger(), h.orchestrator, nil)
	worker.wait = func(_ context.Context, d time.Duration) error {
		waited = d

		return nil
	}

	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Deferred workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{webhookStep("step_1", 1)},
	})

	dispatchAt := time.Now().UTC().Add(10 * time.Minute)
	queued := &events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, "wf_test"),
		ExecutionID: execution.ID,
		TriggerType: models.TriggerRecordCreated,
		DispatchAt:  &dispatchAt,
	}

	require.NoError(t, worker.handleQueued(context.Background(), queued))

	assert.InDelta(t, 10*time.Minute, waited, float64(5*time.Second))

	stored, err := h.store.ExecutionByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
}
