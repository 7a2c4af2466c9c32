package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"workflow_run_history", "workflow_step_logs", "workflow_executions", "workflow_steps", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowengine_test"),
			postgres.WithUsername("flowengine"),
			postgres.WithPassword("flowengine"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func createTestWorkflow(t *testing.T) *models.Workflow {
	t.Helper()

	maxPerDay := 5

	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Hot Lead Routing",
		Description: "Assigns hot leads and notifies the owner",
		Module:      "leads",
		IsActive:    true,
		Priority:    10,
		TriggerType: models.TriggerFieldChanged,
		TriggerConfig: &models.TriggerConfig{
			ChangeType: models.ChangeToValue,
			ToValue:    "hot",
		},
		WatchedFields: []string{"rating"},
		Conditions: &models.ConditionTree{
			Logic: models.LogicAnd,
			Conditions: []models.Condition{
				{Field: "record.amount", Operator: "gt", Value: 1000},
			},
		},
		RunOncePerRecord:    true,
		MaxExecutionsPerDay: &maxPerDay,
		Steps: []*models.WorkflowStep{
			{
				ID:         "assign-owner",
				Name:       "Assign Owner",
				Order:      1,
				ActionType: models.ActionAssignUser,
				ActionConfig: map[string]any{
					"user_id": "user-42",
				},
				RetryCount:        2,
				RetryDelaySeconds: 30,
			},
			{
				ID:         "notify-owner",
				Name:       "Notify Owner",
				Order:      2,
				ActionType: models.ActionSendNotification,
				ActionConfig: map[string]any{
					"message": "Lead {{.record.name}} is hot",
				},
				ContinueOnError: true,
			},
		},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "workflow_steps", "workflow_executions", "workflow_step_logs", "workflow_run_history"} {
		var exists bool

		err := db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestWorkflowRepository_SaveAndLoad(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := createTestWorkflow(t)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	loaded, err := store.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, models.TriggerFieldChanged, loaded.TriggerType)
	require.NotNil(t, loaded.TriggerConfig)
	assert.Equal(t, models.ChangeToValue, loaded.TriggerConfig.ChangeType)
	assert.Equal(t, "hot", loaded.TriggerConfig.ToValue)
	assert.Equal(t, []string{"rating"}, loaded.WatchedFields)
	require.NotNil(t, loaded.Conditions)
	assert.Len(t, loaded.Conditions.Conditions, 1)
	assert.True(t, loaded.RunOncePerRecord)
	require.NotNil(t, loaded.MaxExecutionsPerDay)
	assert.Equal(t, 5, *loaded.MaxExecutionsPerDay)

	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, "assign-owner", loaded.Steps[0].ID)
	assert.Equal(t, models.ActionAssignUser, loaded.Steps[0].ActionType)
	assert.Equal(t, 2, loaded.Steps[0].RetryCount)
	assert.True(t, loaded.Steps[1].ContinueOnError)
}

func TestWorkflowRepository_SaveReplacesSteps(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := createTestWorkflow(t)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	workflow.Steps = workflow.Steps[:1]
	workflow.Steps[0].Name = "Assign Senior Owner"
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	loaded, err := store.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "Assign Senior Owner", loaded.Steps[0].Name)
}

func TestWorkflowRepository_FilterAndPriority(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	high := createTestWorkflow(t)
	high.Priority = 100
	high.TriggerType = models.TriggerRecordCreated
	high.TriggerConfig = nil
	high.Steps = nil
	require.NoError(t, store.SaveWorkflow(ctx, high))

	low := createTestWorkflow(t)
	low.ID = uuid.New().String()
	low.Priority = 1
	low.TriggerType = models.TriggerRecordCreated
	low.TriggerConfig = nil
	low.Module = "" // matches any module scope
	low.Steps = nil
	require.NoError(t, store.SaveWorkflow(ctx, low))

	inactive := createTestWorkflow(t)
	inactive.ID = uuid.New().String()
	inactive.TriggerType = models.TriggerRecordCreated
	inactive.IsActive = false
	inactive.Steps = nil
	require.NoError(t, store.SaveWorkflow(ctx, inactive))

	result, err := store.Workflows(ctx, persistence.WorkflowFilter{
		TriggerTypes: []models.TriggerType{models.TriggerRecordCreated},
		Module:       "leads",
		ActiveOnly:   true,
	})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, high.ID, result[0].ID)
	assert.Equal(t, low.ID, result[1].ID)
}

func TestWorkflowRepository_SoftDelete(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := createTestWorkflow(t)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))
	require.NoError(t, store.DeleteWorkflow(ctx, workflow.ID))

	_, err := store.WorkflowByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = store.DeleteWorkflow(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_DueScheduled(t *testing.T) {
	store, ctx, _ := setupTestDB(t)
	now := time.Now().UTC()

	due := createTestWorkflow(t)
	due.TriggerType = models.TriggerTimeBased
	due.TriggerConfig = nil
	due.ScheduleCron = "0 9 * * *"
	past := now.Add(-time.Minute)
	due.NextRunAt = &past
	due.Steps = nil
	require.NoError(t, store.SaveWorkflow(ctx, due))

	future := createTestWorkflow(t)
	future.ID = uuid.New().String()
	future.TriggerType = models.TriggerTimeBased
	future.TriggerConfig = nil
	later := now.Add(time.Hour)
	future.NextRunAt = &later
	future.Steps = nil
	require.NoError(t, store.SaveWorkflow(ctx, future))

	result, err := store.DueScheduledWorkflows(ctx, now)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, due.ID, result[0].ID)
}

func TestWorkflowRepository_UpdateStats(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := createTestWorkflow(t)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	require.NoError(t, store.UpdateWorkflowStats(ctx, workflow.ID, true))
	require.NoError(t, store.UpdateWorkflowStats(ctx, workflow.ID, false))

	loaded, err := store.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.ExecutionCount)
	assert.Equal(t, 1, loaded.SuccessCount)
	assert.Equal(t, 1, loaded.FailureCount)
	assert.NotNil(t, loaded.LastRunAt)
}

func TestWorkflowRepository_IncrementDailyExecutions(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := createTestWorkflow(t)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	for range 3 {
		ok, err := store.IncrementDailyExecutions(ctx, workflow.ID, "2026-09-01", 3)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := store.IncrementDailyExecutions(ctx, workflow.ID, "2026-09-01", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	// Stale date resets the counter.
	ok, err = store.IncrementDailyExecutions(ctx, workflow.ID, "2026-09-02", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.IncrementDailyExecutions(ctx, uuid.New().String(), "2026-09-01", 3)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := createTestWorkflow(t)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := models.NewWorkflowExecution(uuid.New().String(), workflow, models.TriggerFieldChanged, map[string]any{
		"record": map[string]any{"id": "lead-1", "rating": "hot"},
	})
	execution.TriggerRecordID = "lead-1"
	execution.TriggerRecordType = "lead"

	require.NoError(t, store.SaveExecution(ctx, execution))

	require.NoError(t, execution.MarkAsQueued())
	require.NoError(t, execution.MarkAsStarted())
	require.NoError(t, execution.MarkAsCompleted())
	execution.StepsCompleted = 2
	require.NoError(t, store.SaveExecution(ctx, execution))

	loaded, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, loaded.Status)
	assert.Equal(t, 2, loaded.StepsCompleted)
	assert.NotNil(t, loaded.StartedAt)
	assert.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, "hot", loaded.ContextData["record"].(map[string]any)["rating"])

	executions, err := store.ExecutionsByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	_, err = store.ExecutionByID(ctx, uuid.New().String())
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestStepLogRepository_AttemptsAndRetries(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := createTestWorkflow(t)
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := models.NewWorkflowExecution(uuid.New().String(), workflow, models.TriggerManual, nil)
	require.NoError(t, store.SaveExecution(ctx, execution))

	first := models.NewStepLog(uuid.New().String(), execution.ID, "assign-owner", 0)
	first.MarkAsStarted(map[string]any{"user_id": "user-42"})
	require.NoError(t, store.SaveStepLog(ctx, first))

	first.MarkAsFailed("crm unavailable", "dial tcp: connection refused")
	require.NoError(t, store.SaveStepLog(ctx, first))

	retry := first.NewRetry(uuid.New().String())
	retry.MarkAsStarted(map[string]any{"user_id": "user-42"})
	retry.MarkAsCompleted(map[string]any{"assigned": true})
	require.NoError(t, store.SaveStepLog(ctx, retry))

	logs, err := store.StepLogsByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, models.StepFailed, logs[0].Status)
	assert.Equal(t, "crm unavailable", logs[0].ErrorMessage)
	assert.Equal(t, 0, logs[0].RetryAttempt)

	assert.Equal(t, models.StepCompleted, logs[1].Status)
	assert.Equal(t, 1, logs[1].RetryAttempt)
	assert.Equal(t, true, logs[1].OutputData["assigned"])
}

func TestRunHistory_ConcurrentSingleWinner(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	entry := models.RunHistory{
		WorkflowID:  uuid.New().String(),
		RecordID:    "lead-42",
		RecordType:  "lead",
		TriggerType: models.TriggerRecordCreated,
	}

	const attempts = 10

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)

	for range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			inserted, err := store.RecordRun(ctx, entry)
			assert.NoError(t, err)

			if inserted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, winners)

	has, err := store.HasRun(ctx, entry.WorkflowID, entry.RecordID, entry.RecordType, entry.TriggerType)
	require.NoError(t, err)
	assert.True(t, has)
}
