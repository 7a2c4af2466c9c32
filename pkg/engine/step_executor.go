package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/helixcrm/flowengine/pkg/conditions"
	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/events"
	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/protocol"
	"github.com/helixcrm/flowengine/pkg/registry"
)

// StepOutcome is the resolved result of one step attempt, fed back to the
// orchestrator's routing rules.
type StepOutcome struct {
	Status models.StepStatus
	Output map[string]any
	Log    *models.WorkflowStepLog
	Err    error
}

// Completed reports whether the attempt succeeded.
func (o *StepOutcome) Completed() bool {
	return o.Status == models.StepCompleted
}

// Failed reports whether the attempt failed.
func (o *StepOutcome) Failed() bool {
	return o.Status == models.StepFailed
}

// asyncCompletionTimeout bounds the detached bookkeeping write of an async
// step that finishes after its execution moved on.
const asyncCompletionTimeout = 30 * time.Second

// StepExecutor runs a single step attempt: condition gate, step log
// lifecycle, action dispatch under the step's timeout, and the step-level
// events. Failures are outcomes, not errors; the returned error is reserved
// for infrastructure problems such as the log row not persisting.
type StepExecutor struct {
	logger     *slog.Logger
	store      persistence.Persistence
	registry   *registry.Registry
	publisher  eventbus.EventPublisher
	conditions *conditions.Evaluator
}

func NewStepExecutor(
	logger *slog.Logger,
	store persistence.Persistence,
	actionRegistry *registry.Registry,
	publisher eventbus.EventPublisher,
) *StepExecutor {
	return &StepExecutor{
		logger:     logger.With("module", "step_executor"),
		store:      store,
		registry:   actionRegistry,
		publisher:  publisher,
		conditions: conditions.NewEvaluator(),
	}
}

// Run executes one attempt of the step. retryAttempt is 0 for the first
// attempt and increments per retry.
func (e *StepExecutor) Run(
	ctx context.Context,
	workflowID string,
	step *models.WorkflowStep,
	execCtx *models.ExecutionContext,
	retryAttempt int,
) (*StepOutcome, error) {
	logger := e.logger.With("execution_id", execCtx.ExecutionID, "step_id", step.ID)

	matched, err := e.conditions.Evaluate(step.Conditions, execCtx.EvaluationData())
	if err != nil {
		// A broken step condition is a step failure, not a silent skip.
		return e.failWithoutDispatch(ctx, workflowID, step, execCtx, retryAttempt,
			fmt.Errorf("failed to evaluate step conditions: %w", err))
	}

	if !matched {
		stepLog, err := e.newStepLog(execCtx.ExecutionID, step.ID, retryAttempt)
		if err != nil {
			return nil, err
		}

		stepLog.MarkAsSkipped("step conditions not met")

		if err := e.store.SaveStepLog(ctx, stepLog); err != nil {
			return nil, fmt.Errorf("failed to save step log: %w", err)
		}

		logger.InfoContext(ctx, "Step skipped", "reason", "conditions not met")

		return &StepOutcome{Status: models.StepSkipped, Log: stepLog}, nil
	}

	stepLog, err := e.newStepLog(execCtx.ExecutionID, step.ID, retryAttempt)
	if err != nil {
		return nil, err
	}

	stepLog.MarkAsStarted(execCtx.Data)

	if err := e.store.SaveStepLog(ctx, stepLog); err != nil {
		return nil, fmt.Errorf("failed to save step log: %w", err)
	}

	action, err := e.registry.CreateAction(ctx, step.ActionType, step.ActionConfig)
	if err != nil {
		return e.resolveFailure(ctx, workflowID, step, stepLog, execCtx, err)
	}

	if step.IsAsync {
		e.dispatchAsync(workflowID, step, stepLog, execCtx, action)

		logger.InfoContext(ctx, "Async step dispatched")

		// Routing treats a dispatched async step as a success; the real
		// outcome only lands in the stored log later.
		return &StepOutcome{Status: models.StepCompleted, Output: map[string]any{}, Log: stepLog}, nil
	}

	output, err := e.invoke(ctx, step, execCtx, action)
	if err != nil {
		return e.resolveFailure(ctx, workflowID, step, stepLog, execCtx, err)
	}

	stepLog.MarkAsCompleted(output)

	if err := e.store.SaveStepLog(ctx, stepLog); err != nil {
		return nil, fmt.Errorf("failed to save step log: %w", err)
	}

	e.publishStepCompleted(ctx, workflowID, step.ID, execCtx.ExecutionID, output, stepLog.DurationMs)
	logger.InfoContext(ctx, "Step completed", "duration_ms", stepLog.DurationMs)

	return &StepOutcome{Status: models.StepCompleted, Output: output, Log: stepLog}, nil
}

type actionResult struct {
	output map[string]any
	err    error
}

// invoke runs the action handler bounded by the step's timeout. A handler
// that overruns the bound fails with a timeout error even if the underlying
// operation eventually completes.
func (e *StepExecutor) invoke(
	ctx context.Context,
	step *models.WorkflowStep,
	execCtx *models.ExecutionContext,
	action protocol.Action,
) (map[string]any, error) {
	runCtx := ctx

	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	results := make(chan actionResult, 1)

	go func() {
		output, err := action.Execute(runCtx, *execCtx, e.logger)
		results <- actionResult{output: output, err: err}
	}()

	select {
	case <-runCtx.Done():
		return nil, fmt.Errorf("step %s timed out after %ds: %w", step.ID, step.TimeoutSeconds, runCtx.Err())
	case result := <-results:
		return result.output, result.err
	}
}

// dispatchAsync runs the handler detached from the orchestrator. The
// completion callback only updates the stored log; it never advances
// routing.
func (e *StepExecutor) dispatchAsync(
	workflowID string,
	step *models.WorkflowStep,
	stepLog *models.WorkflowStepLog,
	execCtx *models.ExecutionContext,
	action protocol.Action,
) {
	snapshot := *execCtx

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncCompletionTimeout)
		defer cancel()

		runCtx := ctx

		if step.TimeoutSeconds > 0 {
			var timeoutCancel context.CancelFunc

			runCtx, timeoutCancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
			defer timeoutCancel()
		}

		output, err := action.Execute(runCtx, snapshot, e.logger)
		if err != nil {
			stepLog.MarkAsFailed(err.Error(), fmt.Sprintf("%+v", err))
			e.publishStepFailed(ctx, workflowID, step, stepLog, false)
		} else {
			stepLog.MarkAsCompleted(output)
			e.publishStepCompleted(ctx, workflowID, step.ID, stepLog.ExecutionID, output, stepLog.DurationMs)
		}

		if saveErr := e.store.SaveStepLog(ctx, stepLog); saveErr != nil {
			e.logger.ErrorContext(ctx, "Failed to save async step log",
				"execution_id", stepLog.ExecutionID, "step_id", step.ID, "error", saveErr)
		}
	}()
}

// resolveFailure records a failed attempt and reports whether another
// attempt fits the retry budget via the outcome's log.
func (e *StepExecutor) resolveFailure(
	ctx context.Context,
	workflowID string,
	step *models.WorkflowStep,
	stepLog *models.WorkflowStepLog,
	execCtx *models.ExecutionContext,
	cause error,
) (*StepOutcome, error) {
	stepLog.MarkAsFailed(cause.Error(), fmt.Sprintf("%+v", cause))

	if err := e.store.SaveStepLog(ctx, stepLog); err != nil {
		return nil, fmt.Errorf("failed to save step log: %w", err)
	}

	willRetry := stepLog.CanRetry(step.RetryCount) && !step.ContinueOnError

	e.publishStepFailed(ctx, workflowID, step, stepLog, willRetry)
	e.logger.WarnContext(ctx, "Step failed",
		"execution_id", execCtx.ExecutionID, "step_id", step.ID,
		"retry_attempt", stepLog.RetryAttempt, "error", cause)

	return &StepOutcome{Status: models.StepFailed, Log: stepLog, Err: cause}, nil
}

// failWithoutDispatch handles failures that happen before the handler is
// even looked up, such as a broken step condition tree.
func (e *StepExecutor) failWithoutDispatch(
	ctx context.Context,
	workflowID string,
	step *models.WorkflowStep,
	execCtx *models.ExecutionContext,
	retryAttempt int,
	cause error,
) (*StepOutcome, error) {
	stepLog, err := e.newStepLog(execCtx.ExecutionID, step.ID, retryAttempt)
	if err != nil {
		return nil, err
	}

	stepLog.MarkAsStarted(execCtx.Data)

	return e.resolveFailure(ctx, workflowID, step, stepLog, execCtx, cause)
}

func (e *StepExecutor) newStepLog(executionID, stepID string, retryAttempt int) (*models.WorkflowStepLog, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate step log ID: %w", err)
	}

	return models.NewStepLog(id.String(), executionID, stepID, retryAttempt), nil
}

func (e *StepExecutor) publishStepCompleted(ctx context.Context, workflowID, stepID, executionID string, output map[string]any, durationMs int64) {
	event := events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, workflowID),
		ExecutionID: executionID,
		StepID:      stepID,
		OutputData:  output,
		DurationMs:  durationMs,
	}

	if err := e.publisher.Publish(ctx, workflowID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish step completed event", "step_id", stepID, "error", err)
	}
}

func (e *StepExecutor) publishStepFailed(ctx context.Context, workflowID string, step *models.WorkflowStep, stepLog *models.WorkflowStepLog, willRetry bool) {
	event := events.StepFailed{
		BaseEvent:    events.NewBaseEvent(events.StepFailedEvent, workflowID),
		ExecutionID:  stepLog.ExecutionID,
		StepID:       step.ID,
		Error:        stepLog.ErrorMessage,
		RetryAttempt: stepLog.RetryAttempt,
		WillRetry:    willRetry,
	}

	if err := e.publisher.Publish(ctx, workflowID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish step failed event", "step_id", step.ID, "error", err)
	}
}
