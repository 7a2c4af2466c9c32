package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
)

// StepLogRepository handles step log database operations.
type StepLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepLogRepository creates a new step log repository.
func NewStepLogRepository(db *sql.DB, logger *slog.Logger) *StepLogRepository {
	return &StepLogRepository{db: db, logger: logger}
}

// Save upserts a step log row.
func (r *StepLogRepository) Save(ctx context.Context, stepLog *models.WorkflowStepLog) error {
	if stepLog.CreatedAt.IsZero() {
		stepLog.CreatedAt = time.Now().UTC()
	}

	inputDataJSON, err := json.Marshal(stepLog.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}

	outputDataJSON, err := json.Marshal(stepLog.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := `
		INSERT INTO workflow_step_logs (id, execution_id, step_id, status,
			started_at, completed_at, duration_ms, input_data, output_data,
			error_message, error_trace, retry_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			error_message = EXCLUDED.error_message,
			error_trace = EXCLUDED.error_trace
	`

	_, err = r.db.ExecContext(ctx, query,
		stepLog.ID,
		stepLog.ExecutionID,
		stepLog.StepID,
		stepLog.Status,
		stepLog.StartedAt,
		stepLog.CompletedAt,
		stepLog.DurationMs,
		inputDataJSON,
		outputDataJSON,
		stepLog.ErrorMessage,
		stepLog.ErrorTrace,
		stepLog.RetryAttempt,
		stepLog.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save step log: %w", err)
	}

	return nil
}

// ListByExecution returns the step logs of an execution in creation order,
// retries following the attempt they retried.
func (r *StepLogRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowStepLog, error) {
	query := `
		SELECT id, execution_id, step_id, status, started_at, completed_at,
			duration_ms, input_data, output_data, error_message, error_trace,
			retry_attempt, created_at
		FROM workflow_step_logs
		WHERE execution_id = $1
		ORDER BY created_at ASC, retry_attempt ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step logs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	stepLogs := make([]*models.WorkflowStepLog, 0)

	for rows.Next() {
		var (
			stepLog        models.WorkflowStepLog
			inputDataJSON  []byte
			outputDataJSON []byte
		)

		err := rows.Scan(
			&stepLog.ID,
			&stepLog.ExecutionID,
			&stepLog.StepID,
			&stepLog.Status,
			&stepLog.StartedAt,
			&stepLog.CompletedAt,
			&stepLog.DurationMs,
			&inputDataJSON,
			&outputDataJSON,
			&stepLog.ErrorMessage,
			&stepLog.ErrorTrace,
			&stepLog.RetryAttempt,
			&stepLog.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step log: %w", err)
		}

		if inputDataJSON != nil {
			if err := json.Unmarshal(inputDataJSON, &stepLog.InputData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
			}
		}

		if outputDataJSON != nil {
			if err := json.Unmarshal(outputDataJSON, &stepLog.OutputData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
			}
		}

		stepLogs = append(stepLogs, &stepLog)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step logs: %w", err)
	}

	return stepLogs, nil
}
