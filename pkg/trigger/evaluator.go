// Package trigger turns incoming domain events into pending workflow
// executions. It selects candidate workflows, applies trigger matching,
// condition trees, run-once history and daily budgets, and queues an
// execution per surviving candidate in priority order.
package trigger

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
	"github.com/helixcrm/flowengine/pkg/ratelimit"
)

// Evaluator is the trigger evaluation pipeline. It is stateless apart from
// its collaborators and safe for concurrent use.
type Evaluator struct {
	logger     *slog.Logger
	store      persistence.Persistence
	limiter    ratelimit.Limiter
	publisher  eventbus.EventPublisher
	conditions *conditions.Evaluator
	now        func() time.Time
}

func NewEvaluator(
	logger *slog.Logger,
	store persistence.Persistence,
	limiter ratelimit.Limiter,
	publisher eventbus.EventPublisher,
) *Evaluator {
	return &Evaluator{
		logger:     logger.With("module", "trigger_evaluator"),
		store:      store,
		limiter:    limiter,
		publisher:  publisher,
		conditions: conditions.NewEvaluator(),
		now:        time.Now,
	}
}

// Evaluate runs the full pipeline for one event and returns the executions
// it created, in the order they were queued. A workflow with broken
// configuration is skipped with a logged error and never aborts evaluation
// of the remaining candidates.
func (e *Evaluator) Evaluate(ctx context.Context, event *models.TriggerEvent) ([]*models.WorkflowExecution, error) {
	logger := e.logger.With("event_type", event.EventType, "record_id", event.RecordID)

	candidates, err := e.candidates(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate workflows: %w", err)
	}

	logger.DebugContext(ctx, "Evaluating trigger event", "candidates", len(candidates))

	created := make([]*models.WorkflowExecution, 0, len(candidates))

	for _, workflow := range candidates {
		matched, err := e.matches(workflow, event)
		if err != nil {
			logger.ErrorContext(ctx, "Skipping workflow with broken configuration",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		if !matched {
			continue
		}

		allowed, err := e.passesGuards(ctx, workflow, event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to check workflow guards",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		if !allowed {
			continue
		}

		execution, err := e.queueExecution(ctx, workflow, event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to queue execution",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		created = append(created, execution)

		if workflow.StopOnFirstMatch {
			logger.DebugContext(ctx, "Stopping on first match", "workflow_id", workflow.ID)

			break
		}
	}

	return created, nil
}

// candidates loads the workflows to consider, already ordered by priority.
// Events that name a workflow (manual triggers, scheduler ticks) bypass the
// filter query and load it directly.
func (e *Evaluator) candidates(ctx context.Context, event *models.TriggerEvent) ([]*models.Workflow, error) {
	if event.WorkflowID != "" {
		workflow, err := e.store.WorkflowByID(ctx, event.WorkflowID)
		if err != nil {
			return nil, err
		}

		if !workflow.IsActive {
			return nil, nil
		}

		return []*models.Workflow{workflow}, nil
	}

	return e.store.Workflows(ctx, persistence.WorkflowFilter{
		TriggerTypes: candidateTriggerTypes(event.EventType),
		Module:       event.Module,
		ActiveOnly:   true,
	})
}

// candidateTriggerTypes widens the stored-trigger filter so that
// record_saved workflows see both create and update events and
// field_changed workflows see updates.
func candidateTriggerTypes(eventType models.TriggerType) []models.TriggerType {
	switch eventType {
	case models.TriggerRecordCreated:
		return []models.TriggerType{models.TriggerRecordCreated, models.TriggerRecordSaved}
	case models.TriggerRecordUpdated:
		return []models.TriggerType{
			models.TriggerRecordUpdated,
			models.TriggerRecordSaved,
			models.TriggerFieldChanged,
		}
	default:
		return []models.TriggerType{eventType}
	}
}

// matches applies the per-workflow trigger matching rules: event type,
// timing restriction, watched-field changes and the condition tree. A
// malformed condition tree surfaces as an error so the caller can skip the
// workflow.
func (e *Evaluator) matches(workflow *models.Workflow, event *models.TriggerEvent) (bool, error) {
	if event.EventType == models.TriggerManual {
		if !workflow.AllowManualTrigger {
			return false, nil
		}
	} else if !workflow.MatchesEventType(event.EventType) {
		return false, nil
	}

	if isRecordMutation(event.EventType) && !workflow.MatchesTiming(event.IsCreate()) {
		return false, nil
	}

	if workflow.TriggerType == models.TriggerFieldChanged {
		changed := event.ChangedFields
		if len(changed) == 0 {
			changed = models.ChangedFields(event.RecordData, event.OldData)
		}

		if !workflow.MatchesFieldChange(event.RecordData, event.OldData, changed) {
			return false, nil
		}
	}

	matched, err := e.conditions.Evaluate(workflow.Conditions, conditionContext(event))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate workflow conditions: %w", err)
	}

	return matched, nil
}

func isRecordMutation(eventType models.TriggerType) bool {
	switch eventType {
	case models.TriggerRecordCreated, models.TriggerRecordUpdated, models.TriggerRecordSaved:
		return true
	default:
		return false
	}
}

// passesGuards enforces run-once-per-record and the daily execution budget.
// Both checks are compare-and-set at the storage layer; a lost race reads as
// "already handled" rather than an error.
func (e *Evaluator) passesGuards(ctx context.Context, workflow *models.Workflow, event *models.TriggerEvent) (bool, error) {
	if workflow.RunOncePerRecord && event.RecordID != "" {
		recorded, err := e.store.RecordRun(ctx, models.RunHistory{
			WorkflowID:  workflow.ID,
			RecordID:    event.RecordID,
			RecordType:  event.RecordType,
			TriggerType: event.EventType,
			ExecutedAt:  e.now().UTC(),
		})
		if err != nil {
			return false, fmt.Errorf("failed to record run history: %w", err)
		}

		if !recorded {
			e.logger.DebugContext(ctx, "Workflow already ran for record",
				"workflow_id", workflow.ID, "record_id", event.RecordID)

			return false, nil
		}
	}

	if workflow.MaxExecutionsPerDay != nil {
		allowed, err := e.limiter.Allow(ctx, workflow.ID, *workflow.MaxExecutionsPerDay)
		if err != nil {
			return false, fmt.Errorf("failed to check daily budget: %w", err)
		}

		if !allowed {
			e.logger.InfoContext(ctx, "Workflow daily budget exhausted",
				"workflow_id", workflow.ID, "max_per_day", *workflow.MaxExecutionsPerDay)

			return false, nil
		}
	}

	return true, nil
}

// queueExecution creates the pending execution with its context snapshot,
// moves it to queued and announces it on the event bus. DelaySeconds on the
// workflow becomes a dispatch-at hint for workers.
func (e *Evaluator) queueExecution(ctx context.Context, workflow *models.Workflow, event *models.TriggerEvent) (*models.WorkflowExecution, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	execution := models.NewWorkflowExecution(id.String(), workflow, event.EventType, executionContextData(workflow, event))
	execution.TriggerRecordID = event.RecordID
	execution.TriggerRecordType = event.RecordType
	execution.TriggeredBy = event.ActorID

	if err := execution.MarkAsQueued(); err != nil {
		return nil, err
	}

	if err := e.store.SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	queued := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, workflow.ID),
		ExecutionID: execution.ID,
		TriggerType: event.EventType,
	}

	if workflow.DelaySeconds > 0 {
		dispatchAt := e.now().UTC().Add(time.Duration(workflow.DelaySeconds) * time.Second)
		queued.DispatchAt = &dispatchAt
	}

	if err := e.publisher.Publish(ctx, workflow.ID, queued); err != nil {
		return nil, fmt.Errorf("failed to publish queued event: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution queued",
		"workflow_id", workflow.ID, "execution_id", execution.ID, "trigger_type", event.EventType)

	return execution, nil
}

// conditionContext is the data the condition tree is evaluated against.
func conditionContext(event *models.TriggerEvent) map[string]any {
	context := map[string]any{
		"record_id":   event.RecordID,
		"record_type": event.RecordType,
	}

	if event.RecordData != nil {
		context["record"] = event.RecordData
	}

	if event.OldData != nil {
		context["old_record"] = event.OldData
	}

	if len(event.ChangedFields) > 0 {
		context["changed_fields"] = event.ChangedFields
	}

	return context
}

// executionContextData is the snapshot frozen into the execution at
// creation time. Later edits to the record or the workflow do not affect a
// queued execution.
func executionContextData(workflow *models.Workflow, event *models.TriggerEvent) map[string]any {
	data := conditionContext(event)

	data["module"] = event.Module
	data["trigger"] = map[string]any{
		"type":     string(event.EventType),
		"actor_id": event.ActorID,
	}
	data["workflow"] = map[string]any{
		"id":   workflow.ID,
		"name": workflow.Name,
	}

	return data
}
