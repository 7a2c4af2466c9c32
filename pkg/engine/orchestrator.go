// Package engine drives queued workflow executions through their step
// graph: the orchestrator state machine, the step executor, retry
// scheduling and cooperative cancellation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/events"
	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/registry"
)

const (
	// defaultTransitionFactor caps total step transitions per execution at
	// factor times the step count, bounding goto cycles.
	defaultTransitionFactor = 10

	// defaultWaveWorkers bounds concurrent steps within one parallel wave.
	defaultWaveWorkers = 4
)

// Orchestrator advances executions through the pending, queued, running and
// terminal states. Each execution is advanced by exactly one RunExecution
// call at a time; concurrent calls for the same execution are no-ops.
type Orchestrator struct {
	logger    *slog.Logger
	store     persistence.Persistence
	steps     *StepExecutor
	publisher eventbus.EventPublisher

	transitionFactor int
	waveWorkers      int

	running sync.Map
	cancels sync.Map

	// wait is the suspension primitive for retry delays, replaceable in
	// tests.
	wait func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	logger *slog.Logger,
	store persistence.Persistence,
	actionRegistry *registry.Registry,
	publisher eventbus.EventPublisher,
) *Orchestrator {
	return &Orchestrator{
		logger:           logger.With("module", "orchestrator"),
		store:            store,
		steps:            NewStepExecutor(logger, store, actionRegistry, publisher),
		publisher:        publisher,
		transitionFactor: defaultTransitionFactor,
		waveWorkers:      defaultWaveWorkers,
		wait:             sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RequestCancel asks the execution to stop at its next checkpoint. Safe to
// call for unknown or already-terminal executions.
func (o *Orchestrator) RequestCancel(executionID, requestedBy string) {
	o.cancels.Store(executionID, requestedBy)
}

func (o *Orchestrator) cancelRequested(executionID string) (string, bool) {
	requestedBy, ok := o.cancels.Load(executionID)
	if !ok {
		return "", false
	}

	return requestedBy.(string), true
}

// RunExecution drives one execution to a terminal state. Calling it on an
// already-terminal or already-running execution is a no-op.
func (o *Orchestrator) RunExecution(ctx context.Context, executionID string) error {
	if _, loaded := o.running.LoadOrStore(executionID, struct{}{}); loaded {
		return nil
	}

	defer func() {
		o.running.Delete(executionID)
		o.cancels.Delete(executionID)
	}()

	execution, err := o.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status.IsTerminal() {
		return nil
	}

	logger := o.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID)

	workflow, err := o.store.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		return o.failExecution(ctx, execution, nil, fmt.Sprintf("workflow unavailable: %v", err))
	}

	if execution.Status == models.ExecutionPending {
		if err := execution.MarkAsQueued(); err != nil {
			return err
		}

		if err := o.store.SaveExecution(ctx, execution); err != nil {
			return fmt.Errorf("failed to save execution: %w", err)
		}
	}

	if err := execution.MarkAsStarted(); err != nil {
		return err
	}

	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	o.publish(ctx, workflow.ID, events.ExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID:  execution.ID,
		WorkflowName: workflow.Name,
		TriggerType:  execution.TriggerType,
	})

	logger.InfoContext(ctx, "Execution started", "steps", len(workflow.Steps))

	graph, err := NewGraph(workflow.Steps)
	if err != nil {
		return o.failExecution(ctx, execution, workflow, fmt.Sprintf("invalid step graph: %v", err))
	}

	return o.walk(ctx, workflow, execution, graph)
}

// walk is the step graph loop. Cancellation checkpoints sit before each
// wave starts and before each outcome is applied.
func (o *Orchestrator) walk(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	graph *Graph,
) error {
	executionContext := models.NewExecutionContext(execution)
	execCtx := &executionContext
	maxTransitions := o.transitionFactor * graph.Len()
	transitions := 0
	current := graph.First()

	for current != nil {
		if requestedBy, ok := o.cancelRequested(execution.ID); ok {
			return o.cancelExecution(ctx, execution, workflow, requestedBy)
		}

		transitions++
		if transitions > maxTransitions {
			return o.failExecution(ctx, execution, workflow,
				fmt.Sprintf("step transition limit exceeded after %d transitions", maxTransitions))
		}

		wave := graph.Wave(current)

		var (
			next    *models.WorkflowStep
			failMsg string
			err     error
		)

		if len(wave) == 1 {
			next, failMsg, err = o.runSingle(ctx, workflow, execution, graph, current, execCtx)
		} else {
			next, failMsg, err = o.runWave(ctx, workflow, execution, graph, wave, execCtx)
		}

		if err != nil {
			return err
		}

		if requestedBy, ok := o.cancelRequested(execution.ID); ok {
			return o.cancelExecution(ctx, execution, workflow, requestedBy)
		}

		if failMsg != "" {
			return o.failExecution(ctx, execution, workflow, failMsg)
		}

		if err := o.store.SaveExecution(ctx, execution); err != nil {
			return fmt.Errorf("failed to save execution: %w", err)
		}

		current = next
	}

	return o.completeExecution(ctx, execution, workflow)
}

// runSingle executes one non-parallel step, with retries, and resolves the
// next step via the routing rules.
func (o *Orchestrator) runSingle(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	graph *Graph,
	step *models.WorkflowStep,
	execCtx *models.ExecutionContext,
) (*models.WorkflowStep, string, error) {
	if step.IsDisabled {
		execution.StepsSkipped++

		return graph.NextAfter(step.Order), "", nil
	}

	outcome, err := o.runStepWithRetries(ctx, workflow, execution, step, execCtx)
	if err != nil {
		return nil, "", err
	}

	return o.route(graph, execution, step, execCtx, outcome)
}

// route applies the outcome of one step: counters, step output capture, and
// successor resolution. A non-empty failMsg means the execution fails.
func (o *Orchestrator) route(
	graph *Graph,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	execCtx *models.ExecutionContext,
	outcome *StepOutcome,
) (*models.WorkflowStep, string, error) {
	switch outcome.Status {
	case models.StepSkipped:
		execution.StepsSkipped++

		// No goto follows a skip.
		return graph.NextAfter(step.Order), "", nil

	case models.StepCompleted:
		execution.StepsCompleted++
		execCtx.StepOutputs[step.ID] = outcome.Output

		// A condition branch that did not match routes down its failure
		// edge without counting as a failure.
		if step.ActionType == models.ActionConditionBranch {
			if matched, ok := outcome.Output["matched"].(bool); ok && !matched {
				return o.successor(graph, step, step.OnFailureGoto), "", nil
			}
		}

		return o.successor(graph, step, step.OnSuccessGoto), "", nil

	case models.StepFailed:
		execution.StepsFailed++

		if step.ContinueOnError {
			return o.successor(graph, step, step.OnFailureGoto), "", nil
		}

		return nil, fmt.Sprintf("step %s failed: %v", step.ID, outcome.Err), nil

	default:
		return nil, fmt.Sprintf("step %s resolved with unexpected status %s", step.ID, outcome.Status), nil
	}
}

func (o *Orchestrator) successor(graph *Graph, step *models.WorkflowStep, target *string) *models.WorkflowStep {
	if target != nil {
		if next, ok := graph.Step(*target); ok {
			return next
		}
	}

	return graph.NextAfter(step.Order)
}

// runWave dispatches a parallel wave and blocks until every member
// resolves. A member failure with continue_on_error set only affects that
// branch; any hard failure fails the wave. The wave's successor follows the
// first member carrying a success goto, otherwise order advance.
func (o *Orchestrator) runWave(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	graph *Graph,
	wave []*models.WorkflowStep,
	execCtx *models.ExecutionContext,
) (*models.WorkflowStep, string, error) {
	outcomes := make([]*StepOutcome, len(wave))
	errs := make([]error, len(wave))

	var wg sync.WaitGroup

	semaphore := make(chan struct{}, o.waveWorkers)

	for index, member := range wave {
		if member.IsDisabled {
			execution.StepsSkipped++

			continue
		}

		wg.Add(1)

		go func(index int, member *models.WorkflowStep) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			outcomes[index], errs[index] = o.runStepWithRetries(ctx, workflow, execution, member, execCtx)
		}(index, member)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, "", err
		}
	}

	var hardFailure string

	for index, member := range wave {
		outcome := outcomes[index]
		if outcome == nil {
			continue
		}

		switch outcome.Status {
		case models.StepSkipped:
			execution.StepsSkipped++
		case models.StepCompleted:
			execution.StepsCompleted++
			execCtx.StepOutputs[member.ID] = outcome.Output
		case models.StepFailed:
			execution.StepsFailed++

			if !member.ContinueOnError && hardFailure == "" {
				hardFailure = fmt.Sprintf("step %s failed: %v", member.ID, outcome.Err)
			}
		}
	}

	if hardFailure != "" {
		return nil, hardFailure, nil
	}

	for _, member := range wave {
		if member.OnSuccessGoto != nil {
			if next, ok := graph.Step(*member.OnSuccessGoto); ok {
				return next, "", nil
			}
		}
	}

	return graph.NextAfter(wave[0].Order), "", nil
}

func (o *Orchestrator) completeExecution(ctx context.Context, execution *models.WorkflowExecution, workflow *models.Workflow) error {
	if err := execution.MarkAsCompleted(); err != nil {
		return err
	}

	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	if err := o.store.UpdateWorkflowStats(ctx, execution.WorkflowID, true); err != nil {
		o.logger.WarnContext(ctx, "Failed to update workflow stats",
			"workflow_id", execution.WorkflowID, "error", err)
	}

	o.publish(ctx, execution.WorkflowID, events.ExecutionCompleted{
		BaseEvent:      events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID:    execution.ID,
		DurationMs:     execution.DurationMs(),
		StepsCompleted: execution.StepsCompleted,
		StepsSkipped:   execution.StepsSkipped,
	})

	o.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID, "duration_ms", execution.DurationMs(),
		"steps_completed", execution.StepsCompleted, "steps_skipped", execution.StepsSkipped)

	return nil
}

func (o *Orchestrator) failExecution(ctx context.Context, execution *models.WorkflowExecution, workflow *models.Workflow, message string) error {
	if err := execution.MarkAsFailed(message); err != nil {
		return err
	}

	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	if err := o.store.UpdateWorkflowStats(ctx, execution.WorkflowID, false); err != nil {
		o.logger.WarnContext(ctx, "Failed to update workflow stats",
			"workflow_id", execution.WorkflowID, "error", err)
	}

	o.publish(ctx, execution.WorkflowID, events.ExecutionFailed{
		BaseEvent:      events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID:    execution.ID,
		DurationMs:     execution.DurationMs(),
		Error:          message,
		StepsCompleted: execution.StepsCompleted,
		StepsFailed:    execution.StepsFailed,
	})

	o.logger.WarnContext(ctx, "Execution failed", "execution_id", execution.ID, "error", message)

	return nil
}

func (o *Orchestrator) cancelExecution(ctx context.Context, execution *models.WorkflowExecution, workflow *models.Workflow, requestedBy string) error {
	if err := execution.MarkAsCancelled(); err != nil {
		return err
	}

	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	o.publish(ctx, execution.WorkflowID, events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		CancelledBy: requestedBy,
	})

	o.logger.InfoContext(ctx, "Execution cancelled",
		"execution_id", execution.ID, "cancelled_by", requestedBy)

	return nil
}

func (o *Orchestrator) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if err := o.publisher.Publish(ctx, workflowID, event); err != nil {
		o.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
