// Package web provides the HTTP API: event ingestion, manual triggering,
// execution control and observability reads.
package web

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/helixcrm/flowengine/pkg/engine"
	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/events"
	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/registry"
	"github.com/helixcrm/flowengine/pkg/scheduler"
	"github.com/helixcrm/flowengine/pkg/trigger"
)

type APIHandlers struct {
	logger    *slog.Logger
	store     persistence.Persistence
	evaluator *trigger.Evaluator
	bus       eventbus.EventPublisher
	registry  *registry.Registry
	validate  *validator.Validate
}

func NewAPIHandlers(
	logger *slog.Logger,
	store persistence.Persistence,
	evaluator *trigger.Evaluator,
	bus eventbus.EventPublisher,
	actionRegistry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		logger:    logger.With("module", "api"),
		store:     store,
		evaluator: evaluator,
		bus:       bus,
		registry:  actionRegistry,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// PostEvent ingests a domain event and evaluates triggers for it.
func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var event models.TriggerEvent

	if err := c.Bind().Body(&event); err != nil {
		return badRequest(c, "invalid event payload: "+err.Error())
	}

	if !event.EventType.IsValid() {
		return badRequest(c, "unknown event_type: "+string(event.EventType))
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	executions, err := h.evaluator.Evaluate(c.Context(), &event)
	if err != nil {
		return handleStoreError(c, err)
	}

	ids := make([]string, 0, len(executions))
	for _, execution := range executions {
		ids = append(ids, execution.ID)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_ids": ids,
		"count":         len(ids),
	})
}

type manualTriggerRequest struct {
	RecordID   string         `json:"record_id"`
	RecordType string         `json:"record_type"`
	RecordData map[string]any `json:"record_data"`
	ActorID    string         `json:"actor_id"`
}

// TriggerWorkflow runs one workflow manually against an optional record.
func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("id")

	workflow, err := h.store.WorkflowByID(c.Context(), workflowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	if !workflow.AllowManualTrigger {
		return conflict(c, "workflow does not allow manual triggering")
	}

	var request manualTriggerRequest

	if err := c.Bind().Body(&request); err != nil {
		return badRequest(c, "invalid trigger payload: "+err.Error())
	}

	executions, err := h.evaluator.Evaluate(c.Context(), &models.TriggerEvent{
		EventType:  models.TriggerManual,
		Module:     workflow.Module,
		WorkflowID: workflow.ID,
		RecordID:   request.RecordID,
		RecordType: request.RecordType,
		RecordData: request.RecordData,
		ActorID:    request.ActorID,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return handleStoreError(c, err)
	}

	ids := make([]string, 0, len(executions))
	for _, execution := range executions {
		ids = append(ids, execution.ID)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_ids": ids,
		"count":         len(ids),
	})
}

// RunExecution re-announces a queued or pending execution to the workers.
// Terminal executions are left untouched.
func (h *APIHandlers) RunExecution(c fiber.Ctx) error {
	execution, err := h.store.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if execution.Status.IsTerminal() {
		return c.JSON(fiber.Map{"status": execution.Status})
	}

	queued := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		TriggerType: execution.TriggerType,
	}

	if err := h.bus.Publish(c.Context(), execution.WorkflowID, queued); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": execution.Status})
}

type cancelRequest struct {
	RequestedBy string `json:"requested_by"`
}

// CancelExecution requests cooperative cancellation of a running execution.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.store.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if execution.Status.IsTerminal() {
		return conflict(c, "execution already reached a terminal state")
	}

	var request cancelRequest

	_ = c.Bind().Body(&request)

	event := events.ExecutionCancelRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelRequestedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		RequestedBy: request.RequestedBy,
	}

	if err := h.bus.Publish(c.Context(), execution.WorkflowID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": execution.Status})
}

// GetExecution returns one execution.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.store.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(execution)
}

// GetExecutionLogs returns the step logs of one execution in attempt order.
func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	if _, err := h.store.ExecutionByID(c.Context(), c.Params("id")); err != nil {
		return handleStoreError(c, err)
	}

	logs, err := h.store.StepLogsByExecution(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs, "count": len(logs)})
}

// GetWorkflows lists workflows, optionally filtered by module, trigger type
// and active flag.
func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	filter := persistence.WorkflowFilter{
		Module:     c.Query("module"),
		ActiveOnly: c.Query("active") == "true",
	}

	if triggerType := c.Query("trigger_type"); triggerType != "" {
		filter.TriggerTypes = []models.TriggerType{models.TriggerType(triggerType)}
	}

	workflows, err := h.store.Workflows(c.Context(), filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "count": len(workflows)})
}

// GetWorkflow returns one workflow with its steps.
func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.store.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(workflow)
}

// CreateWorkflow validates and stores a workflow definition.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow

	if err := c.Bind().Body(&workflow); err != nil {
		return badRequest(c, "invalid workflow payload: "+err.Error())
	}

	if err := h.validate.Struct(&workflow); err != nil {
		return badRequest(c, err.Error())
	}

	if !workflow.TriggerType.IsValid() {
		return badRequest(c, "unknown trigger_type: "+string(workflow.TriggerType))
	}

	if workflow.TriggerType == models.TriggerTimeBased {
		if workflow.ScheduleCron == "" {
			return badRequest(c, "time_based workflows require schedule_cron")
		}

		if err := scheduler.ValidateCron(workflow.ScheduleCron); err != nil {
			return badRequest(c, err.Error())
		}
	}

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return internalError(c, err)
		}

		workflow.ID = id.String()
	}

	for _, step := range workflow.Steps {
		if !step.ActionType.IsValid() {
			return badRequest(c, "unknown action_type: "+string(step.ActionType))
		}

		step.WorkflowID = workflow.ID
	}

	if _, err := engine.NewGraph(workflow.Steps); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.store.SaveWorkflow(c.Context(), &workflow); err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Workflow created",
		"workflow_id", workflow.ID, "trigger_type", workflow.TriggerType)

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

// DeleteWorkflow soft-deletes a workflow.
func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.store.DeleteWorkflow(c.Context(), c.Params("id")); err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetWorkflowStats returns the workflow's execution counters.
func (h *APIHandlers) GetWorkflowStats(c fiber.Ctx) error {
	workflow, err := h.store.WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_id":            workflow.ID,
		"execution_count":        workflow.ExecutionCount,
		"success_count":          workflow.SuccessCount,
		"failure_count":          workflow.FailureCount,
		"executions_today":       workflow.ExecutionsToday,
		"executions_today_date":  workflow.ExecutionsTodayDate,
		"max_executions_per_day": workflow.MaxExecutionsPerDay,
		"last_run_at":            workflow.LastRunAt,
		"next_run_at":            workflow.NextRunAt,
	})
}

// GetAvailableActions lists the registered action types.
func (h *APIHandlers) GetAvailableActions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"actions": h.registry.AvailableActions()})
}

// HealthCheck probes the persistence layer.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}
