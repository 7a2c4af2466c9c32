// Package memory provides an in-memory persistence implementation, used by
// tests and single-process development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
)

type runKey struct {
	workflowID  string
	recordID    string
	recordType  string
	triggerType models.TriggerType
}

// Persistence implements persistence.Persistence with mutex-guarded maps. It
// provides the same atomicity guarantees as the SQL implementation: the
// run-once ledger and the daily counter are updated under one lock.
type Persistence struct {
	mu sync.RWMutex

	workflows  map[string]*models.Workflow
	executions map[string]*models.WorkflowExecution
	stepLogs   map[string][]*models.WorkflowStepLog
	runs       map[runKey]models.RunHistory
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.WorkflowExecution),
		stepLogs:   make(map[string][]*models.WorkflowStepLog),
		runs:       make(map[runKey]models.RunHistory),
	}
}

// Workflows returns workflows matching the filter, highest priority first.
func (p *Persistence) Workflows(_ context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*models.Workflow

	for _, workflow := range p.workflows {
		if workflow.DeletedAt != nil {
			continue
		}

		if filter.ActiveOnly && !workflow.IsActive {
			continue
		}

		if filter.Module != "" && workflow.Module != "" && workflow.Module != filter.Module {
			continue
		}

		if len(filter.TriggerTypes) > 0 && !containsTrigger(filter.TriggerTypes, workflow.TriggerType) {
			continue
		}

		result = append(result, cloneWorkflow(workflow))
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}

		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return cloneWorkflow(workflow), nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflows[workflow.ID] = cloneWorkflow(workflow)

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return nil
}

func (p *Persistence) DueScheduledWorkflows(_ context.Context, now time.Time) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var due []*models.Workflow

	for _, workflow := range p.workflows {
		if workflow.DeletedAt != nil || !workflow.IsActive {
			continue
		}

		if workflow.TriggerType != models.TriggerTimeBased {
			continue
		}

		if workflow.NextRunAt == nil || workflow.NextRunAt.After(now) {
			continue
		}

		due = append(due, cloneWorkflow(workflow))
	}

	return due, nil
}

func (p *Persistence) UpdateWorkflowStats(_ context.Context, workflowID string, success bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[workflowID]
	if !ok {
		return persistence.NewWorkflowError("UpdateStats", workflowID, persistence.ErrWorkflowNotFound)
	}

	workflow.ExecutionCount++

	if success {
		workflow.SuccessCount++
	} else {
		workflow.FailureCount++
	}

	now := time.Now().UTC()
	workflow.LastRunAt = &now

	return nil
}

// IncrementDailyExecutions resets the counter when the stored date is stale,
// then increments iff the result stays within max. Check and increment happen
// under one lock so concurrent callers cannot overshoot the budget.
func (p *Persistence) IncrementDailyExecutions(_ context.Context, workflowID, date string, max int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[workflowID]
	if !ok {
		return false, persistence.NewWorkflowError("IncrementDailyExecutions", workflowID, persistence.ErrWorkflowNotFound)
	}

	if workflow.ExecutionsTodayDate != date {
		workflow.ExecutionsTodayDate = date
		workflow.ExecutionsToday = 0
	}

	if workflow.ExecutionsToday >= max {
		return false, nil
	}

	workflow.ExecutionsToday++

	return true, nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *execution
	p.executions[execution.ID] = &clone

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	clone := *execution

	return &clone, nil
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*models.WorkflowExecution

	for _, execution := range p.executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		clone := *execution
		result = append(result, &clone)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func (p *Persistence) SaveStepLog(_ context.Context, stepLog *models.WorkflowStepLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *stepLog
	logs := p.stepLogs[stepLog.ExecutionID]

	for i, existing := range logs {
		if existing.ID == stepLog.ID {
			logs[i] = &clone

			return nil
		}
	}

	p.stepLogs[stepLog.ExecutionID] = append(logs, &clone)

	return nil
}

func (p *Persistence) StepLogsByExecution(_ context.Context, executionID string) ([]*models.WorkflowStepLog, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	logs := p.stepLogs[executionID]
	result := make([]*models.WorkflowStepLog, 0, len(logs))

	for _, stepLog := range logs {
		clone := *stepLog
		result = append(result, &clone)
	}

	return result, nil
}

// RecordRun inserts into the run-once ledger. Returns false when the tuple
// already exists, mirroring an ON CONFLICT DO NOTHING insert.
func (p *Persistence) RecordRun(_ context.Context, entry models.RunHistory) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := runKey{
		workflowID:  entry.WorkflowID,
		recordID:    entry.RecordID,
		recordType:  entry.RecordType,
		triggerType: entry.TriggerType,
	}

	if _, exists := p.runs[key]; exists {
		return false, nil
	}

	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	p.runs[key] = entry

	return true, nil
}

func (p *Persistence) HasRun(_ context.Context, workflowID, recordID, recordType string, triggerType models.TriggerType) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, exists := p.runs[runKey{
		workflowID:  workflowID,
		recordID:    recordID,
		recordType:  recordType,
		triggerType: triggerType,
	}]

	return exists, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func containsTrigger(set []models.TriggerType, t models.TriggerType) bool {
	for _, candidate := range set {
		if candidate == t {
			return true
		}
	}

	return false
}

func cloneWorkflow(w *models.Workflow) *models.Workflow {
	clone := *w

	if len(w.Steps) > 0 {
		clone.Steps = make([]*models.WorkflowStep, len(w.Steps))

		for i, step := range w.Steps {
			stepClone := *step
			clone.Steps[i] = &stepClone
		}
	}

	return &clone
}
