package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/events"
	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence/memory"
	"github.com/helixcrm/flowengine/pkg/protocol"
	"github.com/helixcrm/flowengine/pkg/registry"
)

type fakeAction struct {
	execute func(ctx context.Context, execCtx models.ExecutionContext) (map[string]any, error)
}

func (a *fakeAction) Execute(ctx context.Context, execCtx models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	return a.execute(ctx, execCtx)
}

func (a *fakeAction) Validate(_ context.Context) error {
	return nil
}

type fakeFactory struct {
	id     string
	action protocol.Action
}

func (f *fakeFactory) Create(_ context.Context, _ map[string]any) (protocol.Action, error) {
	return f.action, nil
}

func (f *fakeFactory) ID() string {
	return f.id
}

func (f *fakeFactory) Schema() map[string]any {
	return nil
}

type safePublisher struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (p *safePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, event)

	return nil
}

func (p *safePublisher) eventTypes() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.published))
	for _, event := range p.published {
		types = append(types, event.GetType())
	}

	return types
}

type testHarness struct {
	orchestrator *Orchestrator
	store        *memory.Persistence
	registry     *registry.Registry
	publisher    *safePublisher
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &safePublisher{}
	actionRegistry := registry.NewRegistry(testLogger())
	orchestrator := NewOrchestrator(testLogger(), store, actionRegistry, publisher)

	// Retry delays resolve immediately in tests.
	orchestrator.wait = func(_ context.Context, _ time.Duration) error { return nil }

	return &testHarness{
		orchestrator: orchestrator,
		store:        store,
		registry:     actionRegistry,
		publisher:    publisher,
	}
}

func (h *testHarness) registerAction(id string, execute func(ctx context.Context, execCtx models.ExecutionContext) (map[string]any, error)) {
	h.registry.RegisterAction(&fakeFactory{id: id, action: &fakeAction{execute: execute}})
}

// queueExecution saves the workflow and a queued execution for it.
func (h *testHarness) queueExecution(t *testing.T, workflow *models.Workflow) *models.WorkflowExecution {
	t.Helper()

	require.NoError(t, h.store.SaveWorkflow(context.Background(), workflow))

	execution := models.NewWorkflowExecution("exec_"+workflow.ID, workflow, models.TriggerRecordCreated, map[string]any{
		"record": map[string]any{"id": "deal_1", "stage": "new"},
	})
	require.NoError(t, execution.MarkAsQueued())
	require.NoError(t, h.store.SaveExecution(context.Background(), execution))

	return execution
}

func (h *testHarness) reload(t *testing.T, executionID string) *models.WorkflowExecution {
	t.Helper()

	execution, err := h.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)

	return execution
}

func webhookStep(id string, order int) *models.WorkflowStep {
	return &models.WorkflowStep{
		ID:         id,
		WorkflowID: "wf_test",
		Name:       id,
		Order:      order,
		ActionType: models.ActionWebhook,
	}
}

func TestRunExecution_LinearWorkflowCompletes(t *testing.T) {
	h := newHarness(t)

	var secondSawFirstOutput bool

	h.registerAction("webhook", func(_ context.Context, execCtx models.ExecutionContext) (map[string]any, error) {
		if _, ok := execCtx.StepOutputs["step_1"]; ok {
			secondSawFirstOutput = true
		}

		return map[string]any{"status_code": 200}, nil
	})

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Two step workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{webhookStep("step_1", 1), webhookStep("step_2", 2)},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, 2, stored.StepsCompleted)
	assert.Zero(t, stored.StepsFailed)
	assert.NotNil(t, stored.CompletedAt)
	assert.True(t, secondSawFirstOutput)

	workflow, err := h.store.WorkflowByID(context.Background(), "wf_test")
	require.NoError(t, err)
	assert.Equal(t, 1, workflow.ExecutionCount)
	assert.Equal(t, 1, workflow.SuccessCount)

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	for _, stepLog := range logs {
		assert.Equal(t, models.StepCompleted, stepLog.Status)
	}

	types := h.publisher.eventTypes()
	assert.Contains(t, types, events.ExecutionStartedEvent)
	assert.Contains(t, types, events.StepCompletedEvent)
	assert.Contains(t, types, events.ExecutionCompletedEvent)
}

func TestRunExecution_StepConditionSkips(t *testing.T) {
	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})

	gated := webhookStep("step_1", 1)
	gated.Conditions = &models.ConditionTree{
		Conditions: []models.Condition{
			{Field: "record.stage", Operator: "equals", Value: "won"},
		},
	}

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Gated workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{gated, webhookStep("step_2", 2)},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, 1, stored.StepsSkipped)
	assert.Equal(t, 1, stored.StepsCompleted)

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.StepSkipped, logs[0].Status)
}

func TestRunExecution_DisabledStepSkipsWithoutLog(t *testing.T) {
	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})

	disabled := webhookStep("step_1", 1)
	disabled.IsDisabled = true

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Disabled step workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{disabled, webhookStep("step_2", 2)},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, 1, stored.StepsSkipped)

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "step_2", logs[0].StepID)
}

func TestRunExecution_HardFailureFailsExecution(t *testing.T) {
	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return nil, errors.New("upstream returned 500")
	})

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Failing workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{webhookStep("step_1", 1), webhookStep("step_2", 2)},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionFailed, stored.Status)
	assert.Equal(t, 1, stored.StepsFailed)
	assert.Zero(t, stored.StepsCompleted)
	assert.Contains(t, stored.ErrorMessage, "upstream returned 500")

	workflow, err := h.store.WorkflowByID(context.Background(), "wf_test")
	require.NoError(t, err)
	assert.Equal(t, 1, workflow.FailureCount)

	// The walk stopped at the failed step.
	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StepFailed, logs[0].Status)
	assert.Equal(t, "upstream returned 500", logs[0].ErrorMessage)
}

func TestRunExecution_ContinueOnErrorFollowsFailureGoto(t *testing.T) {
	h := newHarness(t)

	var notified bool

	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return nil, errors.New("unreachable")
	})
	h.registerAction("send_notification", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		notified = true

		return map[string]any{"notified": 1}, nil
	})

	failing := webhookStep("step_1", 1)
	failing.ContinueOnError = true
	failing.OnFailureGoto = stringPtr("step_3")

	notify := &models.WorkflowStep{
		ID: "step_3", WorkflowID: "wf_test", Name: "notify", Order: 3,
		ActionType: models.ActionSendNotification,
	}

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Tolerant workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{failing, webhookStep("step_2", 2), notify},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, 1, stored.StepsFailed)
	assert.Equal(t, 1, stored.StepsCompleted)
	assert.True(t, notified)
}

func TestRunExecution_RetriesUntilSuccess(t *testing.T) {
	h := newHarness(t)

	attempts := 0

	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("flaky upstream")
		}

		return map[string]any{"status_code": 200}, nil
	})

	flaky := webhookStep("step_1", 1)
	flaky.RetryCount = 3
	flaky.RetryDelaySeconds = 30

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Flaky workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{flaky},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, 3, attempts)

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, 0, logs[0].RetryAttempt)
	assert.Equal(t, models.StepFailed, logs[0].Status)
	assert.Equal(t, 1, logs[1].RetryAttempt)
	assert.Equal(t, models.StepFailed, logs[1].Status)
	assert.Equal(t, 2, logs[2].RetryAttempt)
	assert.Equal(t, models.StepCompleted, logs[2].Status)

	assert.Contains(t, h.publisher.eventTypes(), events.StepRetryScheduledEvent)
}

func TestRunExecution_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return nil, errors.New("hard down")
	})

	flaky := webhookStep("step_1", 1)
	flaky.RetryCount = 2

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Doomed workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{flaky},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "hard down")

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3) // initial attempt plus two retries
}

func TestRunExecution_GotoCycleHitsTransitionLimit(t *testing.T) {
	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})

	looping := webhookStep("step_1", 1)
	looping.OnSuccessGoto = stringPtr("step_1")

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Looping workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{looping},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "step transition limit exceeded")
}

func TestRunExecution_ConditionBranchRouting(t *testing.T) {
	h := newHarness(t)

	var tookPath string

	h.registerAction("condition_branch", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{"matched": false}, nil
	})
	h.registerAction("webhook", func(_ context.Context, execCtx models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	h.registerAction("send_email", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		tookPath = "email"

		return map[string]any{"sent": true}, nil
	})

	branch := &models.WorkflowStep{
		ID: "step_1", WorkflowID: "wf_test", Name: "branch", Order: 1,
		ActionType:    models.ActionConditionBranch,
		OnSuccessGoto: stringPtr("step_2"),
		OnFailureGoto: stringPtr("step_3"),
	}
	webhookPath := webhookStep("step_2", 2)
	emailPath := &models.WorkflowStep{
		ID: "step_3", WorkflowID: "wf_test", Name: "email", Order: 3,
		ActionType: models.ActionSendEmail,
	}

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Branching workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{branch, webhookPath, emailPath},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, "email", tookPath)

	// The unmatched branch did not count as a failure.
	assert.Zero(t, stored.StepsFailed)
}

func TestRunExecution_ParallelWave(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex

	ran := map[string]bool{}

	h.registerAction("webhook", func(_ context.Context, execCtx models.ExecutionContext) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()

		ran[execCtx.ExecutionID] = true

		return map[string]any{"ok": true}, nil
	})

	parallelA := webhookStep("par_a", 1)
	parallelA.BranchID = "fanout"
	parallelA.IsParallel = true
	parallelB := webhookStep("par_b", 1)
	parallelB.BranchID = "fanout"
	parallelB.IsParallel = true

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Parallel workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{parallelA, parallelB, webhookStep("after", 2)},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, 3, stored.StepsCompleted)

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestRunExecution_ParallelWaveHardFailure(t *testing.T) {
	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	h.registerAction("send_email", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return nil, errors.New("smtp refused")
	})

	parallelA := webhookStep("par_a", 1)
	parallelA.BranchID = "fanout"
	parallelA.IsParallel = true
	parallelB := &models.WorkflowStep{
		ID: "par_b", WorkflowID: "wf_test", Name: "par_b", Order: 1,
		ActionType: models.ActionSendEmail,
		BranchID:   "fanout",
		IsParallel: true,
	}

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Parallel failure workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{parallelA, parallelB, webhookStep("after", 2)},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "smtp refused")
	assert.Equal(t, 1, stored.StepsCompleted)
	assert.Equal(t, 1, stored.StepsFailed)
}

func TestRunExecution_CancelBeforeFirstStep(t *testing.T) {
	h := newHarness(t)
	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Cancelled workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{webhookStep("step_1", 1)},
	})

	h.orchestrator.RequestCancel(execution.ID, "usr_9")
	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCancelled, stored.Status)

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	assert.Contains(t, h.publisher.eventTypes(), events.ExecutionCancelledEvent)
}

func TestRunExecution_TerminalExecutionIsNoOp(t *testing.T) {
	h := newHarness(t)

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Finished workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{webhookStep("step_1", 1)},
	})

	stored := h.reload(t, execution.ID)
	require.NoError(t, stored.MarkAsStarted())
	require.NoError(t, stored.MarkAsCompleted())
	require.NoError(t, h.store.SaveExecution(context.Background(), stored))

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	assert.Empty(t, h.publisher.eventTypes())
}

func TestRunExecution_AsyncStepDoesNotBlockRouting(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})

	h.registerAction("webhook", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		<-release

		return map[string]any{"late": true}, nil
	})
	h.registerAction("send_email", func(_ context.Context, _ models.ExecutionContext) (map[string]any, error) {
		return map[string]any{"sent": true}, nil
	})

	async := webhookStep("step_1", 1)
	async.IsAsync = true

	follower := &models.WorkflowStep{
		ID: "step_2", WorkflowID: "wf_test", Name: "follower", Order: 2,
		ActionType: models.ActionSendEmail,
	}

	execution := h.queueExecution(t, &models.Workflow{
		ID:          "wf_test",
		Name:        "Async workflow",
		IsActive:    true,
		TriggerType: models.TriggerRecordCreated,
		Steps:       []*models.WorkflowStep{async, follower},
	})

	require.NoError(t, h.orchestrator.RunExecution(context.Background(), execution.ID))

	// The execution completed while the async handler was still held.
	stored := h.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)

	logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.StepRunning, logs[0].Status)

	close(release)

	// The out-of-band completion eventually lands in the stored log.
	assert.Eventually(t, func() bool {
		logs, err := h.store.StepLogsByExecution(context.Background(), execution.ID)
		if err != nil {
			return false
		}

		return logs[0].Status == models.StepCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
