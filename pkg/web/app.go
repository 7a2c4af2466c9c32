package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp wires the handlers into a fiber application.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("FlowEngine API")
	})

	app.Post("/events", handlers.PostEvent)

	workflows := app.Group("/workflows")
	workflows.Get("/", handlers.GetWorkflows)
	workflows.Post("/", handlers.CreateWorkflow)
	workflows.Get("/:id", handlers.GetWorkflow)
	workflows.Delete("/:id", handlers.DeleteWorkflow)
	workflows.Get("/:id/stats", handlers.GetWorkflowStats)
	workflows.Post("/:id/trigger", handlers.TriggerWorkflow)

	executions := app.Group("/executions")
	executions.Get("/:id", handlers.GetExecution)
	executions.Get("/:id/logs", handlers.GetExecutionLogs)
	executions.Post("/:id/run", handlers.RunExecution)
	executions.Post("/:id/cancel", handlers.CancelExecution)

	app.Get("/actions", handlers.GetAvailableActions)
	app.Get("/health", handlers.HealthCheck)

	return app
}
