package models

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// executionTransitions encodes the one-directional state machine. Terminal
// states have no outgoing edges.
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending: {ExecutionQueued, ExecutionCancelled},
	ExecutionQueued:  {ExecutionRunning, ExecutionCancelled},
	ExecutionRunning: {ExecutionCompleted, ExecutionFailed, ExecutionCancelled},
}

// CanTransitionTo reports whether the status may move to next.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// WorkflowExecution is one run of a workflow, triggered once. It captures a
// context snapshot at creation time and outlives later edits to the workflow.
type WorkflowExecution struct {
	ID         string `json:"id"          validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`

	TriggerType TriggerType `json:"trigger_type"`

	TriggerRecordID   string `json:"trigger_record_id,omitempty"`
	TriggerRecordType string `json:"trigger_record_type,omitempty"`

	Status ExecutionStatus `json:"status"`

	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ContextData map[string]any `json:"context_data,omitempty"`

	StepsCompleted int `json:"steps_completed"`
	StepsFailed    int `json:"steps_failed"`
	StepsSkipped   int `json:"steps_skipped"`

	ErrorMessage string `json:"error_message,omitempty"`

	// TriggeredBy is the actor who caused the run, when known.
	TriggeredBy string `json:"triggered_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewWorkflowExecution creates a pending execution for the given workflow.
func NewWorkflowExecution(id string, workflow *Workflow, triggerType TriggerType, contextData map[string]any) *WorkflowExecution {
	return &WorkflowExecution{
		ID:          id,
		WorkflowID:  workflow.ID,
		TriggerType: triggerType,
		Status:      ExecutionPending,
		ContextData: contextData,
		CreatedAt:   time.Now().UTC(),
	}
}

func (e *WorkflowExecution) transition(next ExecutionStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}

	e.Status = next

	return nil
}

// MarkAsQueued moves the execution to queued at dispatch time.
func (e *WorkflowExecution) MarkAsQueued() error {
	if err := e.transition(ExecutionQueued); err != nil {
		return err
	}

	now := time.Now().UTC()
	e.QueuedAt = &now

	return nil
}

// MarkAsStarted moves the execution to running.
func (e *WorkflowExecution) MarkAsStarted() error {
	if err := e.transition(ExecutionRunning); err != nil {
		return err
	}

	now := time.Now().UTC()
	e.StartedAt = &now

	return nil
}

// MarkAsCompleted moves the execution to its successful terminal state.
func (e *WorkflowExecution) MarkAsCompleted() error {
	if err := e.transition(ExecutionCompleted); err != nil {
		return err
	}

	now := time.Now().UTC()
	e.CompletedAt = &now

	return nil
}

// MarkAsFailed moves the execution to failed, retaining the last error for
// inspection.
func (e *WorkflowExecution) MarkAsFailed(message string) error {
	if err := e.transition(ExecutionFailed); err != nil {
		return err
	}

	now := time.Now().UTC()
	e.CompletedAt = &now
	e.ErrorMessage = message

	return nil
}

// MarkAsCancelled moves the execution to cancelled.
func (e *WorkflowExecution) MarkAsCancelled() error {
	if err := e.transition(ExecutionCancelled); err != nil {
		return err
	}

	now := time.Now().UTC()
	e.CompletedAt = &now

	return nil
}

// DurationMs returns the wall time between start and completion, or zero when
// either side is unset.
func (e *WorkflowExecution) DurationMs() int64 {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}

	return e.CompletedAt.Sub(*e.StartedAt).Milliseconds()
}
