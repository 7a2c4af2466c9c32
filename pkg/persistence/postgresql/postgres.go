// Package postgresql provides PostgreSQL persistence for workflows,
// executions, step logs and the run-once ledger.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db         *sql.DB
	logger     *slog.Logger
	workflows  *WorkflowRepository
	executions *ExecutionRepository
	stepLogs   *StepLogRepository
	runHistory *RunHistoryRepository
}

// NewPersistence connects, runs migrations and returns a ready store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:         database,
		logger:     logger,
		workflows:  NewWorkflowRepository(database, logger),
		executions: NewExecutionRepository(database, logger),
		stepLogs:   NewStepLogRepository(database, logger),
		runHistory: NewRunHistoryRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	return p.workflows.GetAll(ctx, filter)
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return p.workflows.GetByID(ctx, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflows.Save(ctx, workflow)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflows.Delete(ctx, id)
}

func (p *Persistence) DueScheduledWorkflows(ctx context.Context, now time.Time) ([]*models.Workflow, error) {
	return p.workflows.DueScheduled(ctx, now)
}

func (p *Persistence) UpdateWorkflowStats(ctx context.Context, workflowID string, success bool) error {
	return p.workflows.UpdateStats(ctx, workflowID, success)
}

func (p *Persistence) IncrementDailyExecutions(ctx context.Context, workflowID, date string, max int) (bool, error) {
	return p.workflows.IncrementDailyExecutions(ctx, workflowID, date, max)
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return p.executions.Save(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return p.executions.GetByID(ctx, id)
}

func (p *Persistence) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return p.executions.GetByWorkflow(ctx, workflowID)
}

func (p *Persistence) SaveStepLog(ctx context.Context, stepLog *models.WorkflowStepLog) error {
	return p.stepLogs.Save(ctx, stepLog)
}

func (p *Persistence) StepLogsByExecution(ctx context.Context, executionID string) ([]*models.WorkflowStepLog, error) {
	return p.stepLogs.ListByExecution(ctx, executionID)
}

func (p *Persistence) RecordRun(ctx context.Context, entry models.RunHistory) (bool, error) {
	return p.runHistory.Record(ctx, entry)
}

func (p *Persistence) HasRun(ctx context.Context, workflowID, recordID, recordType string, triggerType models.TriggerType) (bool, error) {
	return p.runHistory.Has(ctx, workflowID, recordID, recordType, triggerType)
}
