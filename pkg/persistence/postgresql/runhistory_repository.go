package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
)

// RunHistoryRepository handles the run-once-per-record ledger.
type RunHistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunHistoryRepository creates a new run history repository.
func NewRunHistoryRepository(db *sql.DB, logger *slog.Logger) *RunHistoryRepository {
	return &RunHistoryRepository{db: db, logger: logger}
}

// Record inserts a ledger entry. The primary key makes concurrent inserts of
// the same tuple race safely: exactly one caller sees true, the rest see
// (false, nil).
func (r *RunHistoryRepository) Record(ctx context.Context, entry models.RunHistory) (bool, error) {
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_run_history (workflow_id, record_id, record_type, trigger_type, executed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id, record_id, record_type, trigger_type) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.WorkflowID,
		entry.RecordID,
		entry.RecordType,
		entry.TriggerType,
		entry.ExecutedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Has reports whether the ledger already holds the tuple.
func (r *RunHistoryRepository) Has(ctx context.Context, workflowID, recordID, recordType string, triggerType models.TriggerType) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM workflow_run_history
			WHERE workflow_id = $1 AND record_id = $2 AND record_type = $3 AND trigger_type = $4
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, workflowID, recordID, recordType, triggerType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check run history: %w", err)
	}

	return exists, nil
}
