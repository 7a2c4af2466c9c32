// Package scheduler fires time_based workflows from their cron expressions.
// A single poller owns every schedule: it primes next_run_at for new
// workflows, emits a trigger event for each due workflow and advances
// next_run_at using the workflow's own expression.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/trigger"
)

const defaultPollInterval = time.Minute

// ValidateCron reports whether the expression parses as a standard five
// field cron spec.
func ValidateCron(expression string) error {
	if _, err := cron.ParseStandard(expression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	return nil
}

// NextRun computes the next fire time of the expression after the given
// instant.
func NextRun(expression string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	return schedule.Next(after), nil
}

// Scheduler is the centralized poller for time_based workflows.
type Scheduler struct {
	logger    *slog.Logger
	store     persistence.Persistence
	evaluator *trigger.Evaluator
	interval  time.Duration

	ticker  *time.Ticker
	done    chan struct{}
	started bool
	mu      sync.Mutex

	now func() time.Time
}

func NewScheduler(logger *slog.Logger, store persistence.Persistence, evaluator *trigger.Evaluator) *Scheduler {
	return &Scheduler{
		logger:    logger.With("module", "scheduler"),
		store:     store,
		evaluator: evaluator,
		interval:  defaultPollInterval,
		now:       time.Now,
	}
}

// Start begins polling. It returns immediately; polling runs until Stop or
// context cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan struct{})
	s.started = true

	go s.poll(ctx)

	s.logger.InfoContext(ctx, "Scheduler started", "interval", s.interval.String())

	return nil
}

// Stop halts polling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.ticker.Stop()
	close(s.done)
	s.started = false
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: prime unscheduled workflows, then fire
// every due one. Exported so tests and manual tooling can drive the
// scheduler without the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	s.primeSchedules(ctx, now)

	due, err := s.store.DueScheduledWorkflows(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load due workflows", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Processing due workflows", "count", len(due))
	}

	for _, workflow := range due {
		s.fire(ctx, workflow, now)
	}
}

// primeSchedules assigns the first next_run_at to active time_based
// workflows that do not have one yet.
func (s *Scheduler) primeSchedules(ctx context.Context, now time.Time) {
	workflows, err := s.store.Workflows(ctx, persistence.WorkflowFilter{
		TriggerTypes: []models.TriggerType{models.TriggerTimeBased},
		ActiveOnly:   true,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load scheduled workflows", "error", err)

		return
	}

	for _, workflow := range workflows {
		if workflow.NextRunAt != nil || workflow.ScheduleCron == "" {
			continue
		}

		next, err := NextRun(workflow.ScheduleCron, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Skipping workflow with invalid cron expression",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		workflow.NextRunAt = &next

		if err := s.store.SaveWorkflow(ctx, workflow); err != nil {
			s.logger.ErrorContext(ctx, "Failed to prime workflow schedule",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		s.logger.InfoContext(ctx, "Workflow schedule primed",
			"workflow_id", workflow.ID, "next_run_at", next)
	}
}

// fire emits the trigger event for one due workflow and advances its
// next_run_at. A failure to advance leaves the workflow due; it will fire
// again on the next tick rather than silently stall.
func (s *Scheduler) fire(ctx context.Context, workflow *models.Workflow, now time.Time) {
	logger := s.logger.With("workflow_id", workflow.ID, "cron", workflow.ScheduleCron)

	_, err := s.evaluator.Evaluate(ctx, &models.TriggerEvent{
		EventType:  models.TriggerTimeBased,
		Module:     workflow.Module,
		WorkflowID: workflow.ID,
		ReceivedAt: now,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to evaluate scheduled trigger", "error", err)

		return
	}

	next, err := NextRun(workflow.ScheduleCron, now)
	if err != nil {
		logger.ErrorContext(ctx, "Workflow has invalid cron expression, disabling schedule", "error", err)

		workflow.NextRunAt = nil
	} else {
		workflow.NextRunAt = &next
	}

	if err := s.store.SaveWorkflow(ctx, workflow); err != nil {
		logger.ErrorContext(ctx, "Failed to advance workflow schedule", "error", err)

		return
	}

	logger.InfoContext(ctx, "Scheduled workflow fired", "next_run_at", workflow.NextRunAt)
}
