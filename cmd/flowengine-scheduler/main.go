// Package main provides the FlowEngine scheduler, which fires time-based
// workflows when their cron schedule comes due.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/helixcrm/flowengine/pkg/cmd"
	"github.com/helixcrm/flowengine/pkg/log"
	"github.com/helixcrm/flowengine/pkg/scheduler"
	"github.com/helixcrm/flowengine/pkg/trigger"
)

func main() {
	logger := log.WithModule("flowengine-scheduler")

	command := &cli.Command{
		Name:                  "flowengine-scheduler",
		Usage:                 "Fire time-based workflows on their cron schedules",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
				Name:    "redis-url",
				Usage:   "Redis URL for the shared daily rate limiter",
				Sources: cli.EnvVars("REDIS_URL"),
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

			logger.InfoContext(ctx, "Initializing FlowEngine Scheduler")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowengine-scheduler", logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			limiter := cmd.NewRateLimiter(command.String("redis-url"), store, logger)
			evaluator := trigger.NewEvaluator(logger, store, limiter, eventBus)
			sched := scheduler.NewScheduler(logger, store, evaluator)

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sched.Start(runCtx); err != nil {
				return err
			}

			defer sched.Stop()

			<-runCtx.Done()
			logger.InfoContext(ctx, "Scheduler shutting down")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
