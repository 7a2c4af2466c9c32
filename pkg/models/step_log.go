package models

import "time"

// StepStatus is the lifecycle state of a single step attempt.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// WorkflowStepLog is one attempt of one step within one execution. Retries
// produce a new log row each with RetryAttempt incremented by one.
type WorkflowStepLog struct {
	ID          string `json:"id"           validate:"required"`
	ExecutionID string `json:"execution_id" validate:"required"`
	StepID      string `json:"step_id"      validate:"required"`

	Status StepStatus `json:"status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`

	InputData  map[string]any `json:"input_data,omitempty"`
	OutputData map[string]any `json:"output_data,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorTrace   string `json:"error_trace,omitempty"`

	// RetryAttempt counts retries of this step within this execution, 0-based.
	RetryAttempt int `json:"retry_attempt"`

	CreatedAt time.Time `json:"created_at"`
}

// NewStepLog creates a pending log row for one step attempt.
func NewStepLog(id, executionID, stepID string, retryAttempt int) *WorkflowStepLog {
	return &WorkflowStepLog{
		ID:           id,
		ExecutionID:  executionID,
		StepID:       stepID,
		Status:       StepPending,
		RetryAttempt: retryAttempt,
		CreatedAt:    time.Now().UTC(),
	}
}

// MarkAsStarted records the attempt start with its input snapshot.
func (l *WorkflowStepLog) MarkAsStarted(input map[string]any) {
	now := time.Now().UTC()
	l.Status = StepRunning
	l.StartedAt = &now
	l.InputData = input
}

// MarkAsCompleted records a successful attempt.
func (l *WorkflowStepLog) MarkAsCompleted(output map[string]any) {
	now := time.Now().UTC()
	l.Status = StepCompleted
	l.CompletedAt = &now
	l.OutputData = output

	if l.StartedAt != nil {
		l.DurationMs = now.Sub(*l.StartedAt).Milliseconds()
	}
}

// MarkAsFailed records a failed attempt.
func (l *WorkflowStepLog) MarkAsFailed(message, trace string) {
	now := time.Now().UTC()
	l.Status = StepFailed
	l.CompletedAt = &now
	l.ErrorMessage = message
	l.ErrorTrace = trace

	if l.StartedAt != nil {
		l.DurationMs = now.Sub(*l.StartedAt).Milliseconds()
	}
}

// MarkAsSkipped records that step conditions evaluated false.
func (l *WorkflowStepLog) MarkAsSkipped(reason string) {
	now := time.Now().UTC()
	l.Status = StepSkipped
	l.CompletedAt = &now
	l.ErrorMessage = reason
}

// CanRetry reports whether another attempt fits the step's retry budget.
func (l *WorkflowStepLog) CanRetry(retryCount int) bool {
	return l.Status == StepFailed && l.RetryAttempt < retryCount
}

// NewRetry creates the pending log row for the next attempt of this step.
func (l *WorkflowStepLog) NewRetry(id string) *WorkflowStepLog {
	return NewStepLog(id, l.ExecutionID, l.StepID, l.RetryAttempt+1)
}
