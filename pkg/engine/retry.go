package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/helixcrm/flowengine/pkg/events"
	"github.com/helixcrm/flowengine/pkg/models"
)

// runStepWithRetries executes one step until it succeeds, skips, exhausts
// its retry budget, or the execution stops being runnable. The orchestrator
// does not advance past the step while retries are pending; each retry
// waits out retry_delay_seconds first.
func (o *Orchestrator) runStepWithRetries(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	execCtx *models.ExecutionContext,
) (*StepOutcome, error) {
	attempt := 0

	for {
		outcome, err := o.steps.Run(ctx, workflow.ID, step, execCtx, attempt)
		if err != nil {
			return nil, err
		}

		if !outcome.Failed() || step.ContinueOnError {
			return outcome, nil
		}

		if !outcome.Log.CanRetry(step.RetryCount) {
			return outcome, nil
		}

		attempt = outcome.Log.RetryAttempt + 1
		delay := time.Duration(step.RetryDelaySeconds) * time.Second
		retryAt := time.Now().UTC().Add(delay)

		o.publish(ctx, workflow.ID, events.StepRetryScheduled{
			BaseEvent:    events.NewBaseEvent(events.StepRetryScheduledEvent, workflow.ID),
			ExecutionID:  execution.ID,
			StepID:       step.ID,
			RetryAttempt: attempt,
			RetryAt:      retryAt,
		})

		o.logger.InfoContext(ctx, "Step retry scheduled",
			"execution_id", execution.ID, "step_id", step.ID,
			"retry_attempt", attempt, "retry_at", retryAt)

		if err := o.wait(ctx, delay); err != nil {
			return nil, err
		}

		runnable, err := o.executionStillRunnable(ctx, execution.ID)
		if err != nil {
			return nil, err
		}

		if !runnable {
			// The execution was cancelled or finished while the retry was
			// pending; the scheduled attempt becomes a no-op.
			return outcome, nil
		}
	}
}

// executionStillRunnable reports whether a scheduled retry should still
// fire: the stored execution must not have reached a terminal state and no
// cancel request may be pending.
func (o *Orchestrator) executionStillRunnable(ctx context.Context, executionID string) (bool, error) {
	if _, cancelled := o.cancelRequested(executionID); cancelled {
		return false, nil
	}

	execution, err := o.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to reload execution: %w", err)
	}

	return !execution.Status.IsTerminal(), nil
}
