// Package main provides the FlowEngine worker, which consumes queued
// executions from the event bus and runs them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/helixcrm/flowengine/pkg/cmd"
	"github.com/helixcrm/flowengine/pkg/engine"
	"github.com/helixcrm/flowengine/pkg/log"
	"github.com/helixcrm/flowengine/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "flowengine-worker",
		Usage:                 "Start a worker to run queued workflow executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "crm-api-url",
				Usage:    "Base URL of the CRM API",
				Required: true,
				Sources:  cli.EnvVars("CRM_API_URL"),
			},
			&cli.StringFlag{
				Name:    "crm-api-token",
				Usage:   "Bearer token for the CRM API",
				Sources: cli.EnvVars("CRM_API_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowengine-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing FlowEngine Worker")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowengine-worker", logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			backend := cmd.NewCRMBackend(command.String("crm-api-url"), command.String("crm-api-token"), logger)
			orchestrator := engine.NewOrchestrator(logger, store, cmd.NewRegistry(logger, backend), eventBus)
			worker := engine.NewWorker(workerID, logger, orchestrator, eventBus)

			if tracer, err := otelhelper.NewTracer(ctx, "flowengine-worker"); err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			} else {
				worker.WithTracer(tracer)
			}

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := worker.Start(runCtx); err != nil {
				logger.ErrorContext(ctx, "Worker stopped with error", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
