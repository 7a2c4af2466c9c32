package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
		id
	  , name
	  , description
	  , module
	  , is_active
	  , priority
	  , trigger_type
	  , trigger_config
	  , trigger_timing
	  , watched_fields
	  , conditions
	  , run_once_per_record
	  , stop_on_first_match
	  , allow_manual_trigger
	  , max_executions_per_day
	  , executions_today
	  , executions_today_date
	  , delay_seconds
	  , schedule_cron
	  , webhook_secret
	  , execution_count
	  , success_count
	  , failure_count
	  , last_run_at
	  , next_run_at
	  , created_at
	  , updated_at
	  , deleted_at
`

// GetAll returns workflows matching the filter, highest priority first.
func (r *WorkflowRepository) GetAll(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE deleted_at IS NULL`

	var args []any

	if filter.ActiveOnly {
		query += ` AND is_active = TRUE`
	}

	if filter.Module != "" {
		args = append(args, filter.Module)
		query += fmt.Sprintf(` AND (module = '' OR module = $%d)`, len(args))
	}

	if len(filter.TriggerTypes) > 0 {
		triggerTypes := make([]string, len(filter.TriggerTypes))
		for i, t := range filter.TriggerTypes {
			triggerTypes[i] = string(t)
		}

		args = append(args, pq.Array(triggerTypes))
		query += fmt.Sprintf(` AND trigger_type = ANY($%d)`, len(args))
	}

	query += ` ORDER BY priority DESC, created_at ASC`

	return r.queryWorkflows(ctx, query, args...)
}

// GetByID returns a workflow by its ID, steps included.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow steps: %w", err)
	}

	return workflow, nil
}

// DueScheduled returns active time_based workflows whose next_run_at is at or
// before now.
func (r *WorkflowRepository) DueScheduled(ctx context.Context, now time.Time) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows
		WHERE deleted_at IS NULL
		  AND is_active = TRUE
		  AND trigger_type = $1
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $2
		ORDER BY next_run_at ASC`

	return r.queryWorkflows(ctx, query, string(models.TriggerTimeBased), now)
}

// Save saves a workflow and its steps to the database.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	triggerConfigJSON, err := marshalNullable(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	watchedFieldsJSON, err := json.Marshal(workflow.WatchedFields)
	if err != nil {
		return fmt.Errorf("failed to marshal watched fields: %w", err)
	}

	conditionsJSON, err := marshalNullable(workflow.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	timing := workflow.TriggerTiming
	if timing == "" {
		timing = models.TimingAll
	}

	workflowQuery := `
		INSERT INTO workflows (id, name, description, module, is_active, priority,
			trigger_type, trigger_config, trigger_timing, watched_fields, conditions,
			run_once_per_record, stop_on_first_match, allow_manual_trigger,
			max_executions_per_day, executions_today, executions_today_date,
			delay_seconds, schedule_cron, webhook_secret,
			execution_count, success_count, failure_count,
			last_run_at, next_run_at, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			module = EXCLUDED.module,
			is_active = EXCLUDED.is_active,
			priority = EXCLUDED.priority,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			trigger_timing = EXCLUDED.trigger_timing,
			watched_fields = EXCLUDED.watched_fields,
			conditions = EXCLUDED.conditions,
			run_once_per_record = EXCLUDED.run_once_per_record,
			stop_on_first_match = EXCLUDED.stop_on_first_match,
			allow_manual_trigger = EXCLUDED.allow_manual_trigger,
			max_executions_per_day = EXCLUDED.max_executions_per_day,
			delay_seconds = EXCLUDED.delay_seconds,
			schedule_cron = EXCLUDED.schedule_cron,
			webhook_secret = EXCLUDED.webhook_secret,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Module,
		workflow.IsActive,
		workflow.Priority,
		workflow.TriggerType,
		triggerConfigJSON,
		timing,
		watchedFieldsJSON,
		conditionsJSON,
		workflow.RunOncePerRecord,
		workflow.StopOnFirstMatch,
		workflow.AllowManualTrigger,
		workflow.MaxExecutionsPerDay,
		workflow.ExecutionsToday,
		workflow.ExecutionsTodayDate,
		workflow.DelaySeconds,
		workflow.ScheduleCron,
		workflow.WebhookSecret,
		workflow.ExecutionCount,
		workflow.SuccessCount,
		workflow.FailureCount,
		workflow.LastRunAt,
		workflow.NextRunAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	// Replace steps wholesale on every save.
	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	if err = r.saveSteps(ctx, tx, workflow); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// UpdateStats bumps the lifetime counters and last_run_at in one statement.
func (r *WorkflowRepository) UpdateStats(ctx context.Context, workflowID string, success bool) error {
	query := `
		UPDATE workflows SET
			execution_count = execution_count + 1,
			success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
			failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END,
			last_run_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, workflowID, success)
	if err != nil {
		return fmt.Errorf("failed to update workflow stats: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("UpdateStats", workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// IncrementDailyExecutions atomically increments the daily counter, resetting
// it first when the stored date is stale. The conditional UPDATE is the whole
// check-and-set: zero rows affected with the workflow present means the
// budget is exhausted.
func (r *WorkflowRepository) IncrementDailyExecutions(ctx context.Context, workflowID, date string, maxPerDay int) (bool, error) {
	query := `
		UPDATE workflows SET
			executions_today = CASE WHEN executions_today_date = $2 THEN executions_today + 1 ELSE 1 END,
			executions_today_date = $2
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND (executions_today_date <> $2 OR executions_today < $3)
	`

	result, err := r.db.ExecContext(ctx, query, workflowID, date, maxPerDay)
	if err != nil {
		return false, fmt.Errorf("failed to increment daily executions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return true, nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM workflows WHERE id = $1 AND deleted_at IS NULL)", workflowID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check workflow existence: %w", err)
	}

	if !exists {
		return false, persistence.NewWorkflowError("IncrementDailyExecutions", workflowID, persistence.ErrWorkflowNotFound)
	}

	return false, nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadSteps(ctx, workflow); err != nil {
			return nil, fmt.Errorf("failed to load workflow steps: %w", err)
		}
	}

	return workflows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow          models.Workflow
		triggerConfigJSON []byte
		watchedFieldsJSON []byte
		conditionsJSON    []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Module,
		&workflow.IsActive,
		&workflow.Priority,
		&workflow.TriggerType,
		&triggerConfigJSON,
		&workflow.TriggerTiming,
		&watchedFieldsJSON,
		&conditionsJSON,
		&workflow.RunOncePerRecord,
		&workflow.StopOnFirstMatch,
		&workflow.AllowManualTrigger,
		&workflow.MaxExecutionsPerDay,
		&workflow.ExecutionsToday,
		&workflow.ExecutionsTodayDate,
		&workflow.DelaySeconds,
		&workflow.ScheduleCron,
		&workflow.WebhookSecret,
		&workflow.ExecutionCount,
		&workflow.SuccessCount,
		&workflow.FailureCount,
		&workflow.LastRunAt,
		&workflow.NextRunAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if triggerConfigJSON != nil {
		if err := json.Unmarshal(triggerConfigJSON, &workflow.TriggerConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if watchedFieldsJSON != nil {
		if err := json.Unmarshal(watchedFieldsJSON, &workflow.WatchedFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal watched fields: %w", err)
		}
	}

	if conditionsJSON != nil {
		if err := json.Unmarshal(conditionsJSON, &workflow.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.Workflow) error {
	query := `
		SELECT id, name, step_order, action_type, action_config, conditions,
			branch_id, is_parallel, continue_on_error, retry_count,
			retry_delay_seconds, on_success_goto, on_failure_goto,
			timeout_seconds, is_async, is_disabled
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var steps []*models.WorkflowStep

	for rows.Next() {
		var (
			step             models.WorkflowStep
			actionConfigJSON []byte
			conditionsJSON   []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.Name,
			&step.Order,
			&step.ActionType,
			&actionConfigJSON,
			&conditionsJSON,
			&step.BranchID,
			&step.IsParallel,
			&step.ContinueOnError,
			&step.RetryCount,
			&step.RetryDelaySeconds,
			&step.OnSuccessGoto,
			&step.OnFailureGoto,
			&step.TimeoutSeconds,
			&step.IsAsync,
			&step.IsDisabled,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		step.WorkflowID = workflow.ID

		if actionConfigJSON != nil {
			if err := json.Unmarshal(actionConfigJSON, &step.ActionConfig); err != nil {
				return fmt.Errorf("failed to unmarshal action config: %w", err)
			}
		}

		if conditionsJSON != nil {
			if err := json.Unmarshal(conditionsJSON, &step.Conditions); err != nil {
				return fmt.Errorf("failed to unmarshal step conditions: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	workflow.Steps = steps

	return nil
}

func (r *WorkflowRepository) saveSteps(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflow_steps (workflow_id, id, name, step_order, action_type,
			action_config, conditions, branch_id, is_parallel, continue_on_error,
			retry_count, retry_delay_seconds, on_success_goto, on_failure_goto,
			timeout_seconds, is_async, is_disabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	for _, step := range workflow.Steps {
		actionConfigJSON, err := json.Marshal(step.ActionConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal action config: %w", err)
		}

		conditionsJSON, err := marshalNullable(step.Conditions)
		if err != nil {
			return fmt.Errorf("failed to marshal step conditions: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			workflow.ID,
			step.ID,
			step.Name,
			step.Order,
			step.ActionType,
			actionConfigJSON,
			conditionsJSON,
			step.BranchID,
			step.IsParallel,
			step.ContinueOnError,
			step.RetryCount,
			step.RetryDelaySeconds,
			step.OnSuccessGoto,
			step.OnFailureGoto,
			step.TimeoutSeconds,
			step.IsAsync,
			step.IsDisabled,
		)
		if err != nil {
			return fmt.Errorf("failed to save step %s: %w", step.ID, err)
		}
	}

	return nil
}

// marshalNullable marshals a pointer value to JSON, keeping SQL NULL for nil.
func marshalNullable[T any](value *T) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}
