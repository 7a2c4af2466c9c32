// Package persistence provides the data storage abstraction for workflows,
// executions, step logs and the run-once ledger.
package persistence

import (
	"context"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
)

// WorkflowFilter narrows workflow selection for trigger evaluation.
type WorkflowFilter struct {
	// TriggerTypes selects workflows whose trigger type is in the set.
	TriggerTypes []models.TriggerType

	// Module restricts to one module scope; workflows without a module
	// scope always match. Empty means no restriction.
	Module string

	ActiveOnly bool
}

// Persistence is the durable store contract. Implementations must provide
// the uniqueness and atomic-increment guarantees the engine's run-once and
// rate-limit semantics rely on.
type Persistence interface {
	Workflows(ctx context.Context, filter WorkflowFilter) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	// DueScheduledWorkflows returns active time_based workflows whose
	// next_run_at is at or before now.
	DueScheduledWorkflows(ctx context.Context, now time.Time) ([]*models.Workflow, error)

	// UpdateWorkflowStats bumps execution/success/failure counters and
	// last_run_at; called exactly once per execution reaching a terminal
	// state.
	UpdateWorkflowStats(ctx context.Context, workflowID string, success bool) error

	// IncrementDailyExecutions atomically resets a stale counter to zero,
	// then increments it iff the result stays within max. Returns false
	// when the budget is exhausted; the counter is not mutated in that
	// case.
	IncrementDailyExecutions(ctx context.Context, workflowID, date string, max int) (bool, error)

	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)

	SaveStepLog(ctx context.Context, stepLog *models.WorkflowStepLog) error
	StepLogsByExecution(ctx context.Context, executionID string) ([]*models.WorkflowStepLog, error)

	// RecordRun appends to the run-once ledger. A conflict on the unique
	// (workflow, record, record_type, trigger_type) tuple returns
	// (false, nil): already executed, skip, not an error.
	RecordRun(ctx context.Context, entry models.RunHistory) (bool, error)
	HasRun(ctx context.Context, workflowID, recordID, recordType string, triggerType models.TriggerType) (bool, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
