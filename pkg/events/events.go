// Package events defines the event types exchanged between the trigger
// evaluator, the execution workers and the retry dispatcher.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/helixcrm/flowengine/pkg/models"
)

type EventType string

// Topic is the single stream carrying every engine event.
const Topic = "flowengine.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionQueuedEvent          EventType = "execution.queued"
	ExecutionStartedEvent         EventType = "execution.started"
	ExecutionCompletedEvent       EventType = "execution.completed"
	ExecutionFailedEvent          EventType = "execution.failed"
	ExecutionCancelledEvent       EventType = "execution.cancelled"
	ExecutionCancelRequestedEvent EventType = "execution.cancel.requested"

	// Step lifecycle events.
	StepCompletedEvent      EventType = "step.completed"
	StepFailedEvent         EventType = "step.failed"
	StepRetryScheduledEvent EventType = "step.retry.scheduled"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecutionQueued tells a worker to pick up a pending execution. DispatchAt
// is set when the workflow defers dispatch; workers hold the execution until
// then.
type ExecutionQueued struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
	DispatchAt  *time.Time         `json:"dispatch_at,omitempty"`
}

func (e ExecutionQueued) GetType() EventType {
	return ExecutionQueuedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string             `json:"execution_id"`
	WorkflowName string             `json:"workflow_name"`
	TriggerType  models.TriggerType `json:"trigger_type"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	DurationMs     int64  `json:"duration_ms"`
	StepsCompleted int    `json:"steps_completed"`
	StepsSkipped   int    `json:"steps_skipped"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	DurationMs     int64  `json:"duration_ms"`
	Error          string `json:"error"`
	FailedStepID   string `json:"failed_step_id,omitempty"`
	StepsCompleted int    `json:"steps_completed"`
	StepsFailed    int    `json:"steps_failed"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// ExecutionCancelRequested asks the worker holding the execution to stop at
// its next checkpoint.
type ExecutionCancelRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

func (e ExecutionCancelRequested) GetType() EventType {
	return ExecutionCancelRequestedEvent
}

type StepCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	OutputData  map[string]any `json:"output_data,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	StepID       string `json:"step_id"`
	Error        string `json:"error"`
	RetryAttempt int    `json:"retry_attempt"`
	WillRetry    bool   `json:"will_retry"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

// StepRetryScheduled carries a delayed re-attempt of a failed step. RetryAt
// tells the consumer when the attempt becomes due.
type StepRetryScheduled struct {
	BaseEvent

	ExecutionID  string    `json:"execution_id"`
	StepID       string    `json:"step_id"`
	RetryAttempt int       `json:"retry_attempt"`
	RetryAt      time.Time `json:"retry_at"`
}

func (e StepRetryScheduled) GetType() EventType {
	return StepRetryScheduledEvent
}

// NewBaseEvent stamps a fresh event envelope for the given workflow.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
