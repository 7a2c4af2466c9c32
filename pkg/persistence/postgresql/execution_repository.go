package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
)

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
		id
	  , workflow_id
	  , trigger_type
	  , trigger_record_id
	  , trigger_record_type
	  , status
	  , queued_at
	  , started_at
	  , completed_at
	  , context_data
	  , steps_completed
	  , steps_failed
	  , steps_skipped
	  , error_message
	  , triggered_by
	  , created_at
`

// Save upserts an execution row.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	contextDataJSON, err := json.Marshal(execution.ContextData)
	if err != nil {
		return fmt.Errorf("failed to marshal context data: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, trigger_type,
			trigger_record_id, trigger_record_type, status,
			queued_at, started_at, completed_at, context_data,
			steps_completed, steps_failed, steps_skipped,
			error_message, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			queued_at = EXCLUDED.queued_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			context_data = EXCLUDED.context_data,
			steps_completed = EXCLUDED.steps_completed,
			steps_failed = EXCLUDED.steps_failed,
			steps_skipped = EXCLUDED.steps_skipped,
			error_message = EXCLUDED.error_message
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.TriggerType,
		execution.TriggerRecordID,
		execution.TriggerRecordType,
		execution.Status,
		execution.QueuedAt,
		execution.StartedAt,
		execution.CompletedAt,
		contextDataJSON,
		execution.StepsCompleted,
		execution.StepsFailed,
		execution.StepsSkipped,
		execution.ErrorMessage,
		execution.TriggeredBy,
		execution.CreatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// GetByID returns an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	execution, err := r.scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// GetByWorkflow returns executions of a workflow, newest first.
func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution       models.WorkflowExecution
		contextDataJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TriggerType,
		&execution.TriggerRecordID,
		&execution.TriggerRecordType,
		&execution.Status,
		&execution.QueuedAt,
		&execution.StartedAt,
		&execution.CompletedAt,
		&contextDataJSON,
		&execution.StepsCompleted,
		&execution.StepsFailed,
		&execution.StepsSkipped,
		&execution.ErrorMessage,
		&execution.TriggeredBy,
		&execution.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if contextDataJSON != nil {
		if err := json.Unmarshal(contextDataJSON, &execution.ContextData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context data: %w", err)
		}
	}

	return &execution, nil
}
