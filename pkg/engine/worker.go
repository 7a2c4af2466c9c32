package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/events"
	"github.com/helixcrm/flowengine/pkg/otelhelper"
)

// Worker consumes engine events and drives the orchestrator: queued
// executions are dispatched (after their dispatch-at delay, when set) and
// cancel requests are forwarded to the running orchestrator.
type Worker struct {
	id           string
	logger       *slog.Logger
	orchestrator *Orchestrator
	bus          eventbus.EventBus
	tracer       trace.Tracer

	wait func(ctx context.Context, d time.Duration) error
}

func NewWorker(id string, logger *slog.Logger, orchestrator *Orchestrator, bus eventbus.EventBus) *Worker {
	return &Worker{
		id:           id,
		logger:       logger.With("module", "worker", "worker_id", id),
		orchestrator: orchestrator,
		bus:          bus,
		tracer:       noop.NewTracerProvider().Tracer("flowengine"),
		wait:         sleepContext,
	}
}

// WithTracer exports worker spans through the given tracer.
func (w *Worker) WithTracer(tracer trace.Tracer) *Worker {
	w.tracer = tracer

	return w
}

// Start registers the worker's handlers and blocks consuming events until
// the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.bus.Handle(events.ExecutionQueuedEvent, w.handleQueued); err != nil {
		return fmt.Errorf("failed to register queued handler: %w", err)
	}

	if err := w.bus.Handle(events.ExecutionCancelRequestedEvent, w.handleCancelRequested); err != nil {
		return fmt.Errorf("failed to register cancel handler: %w", err)
	}

	w.logger.InfoContext(ctx, "Worker starting")

	return w.bus.Subscribe(ctx)
}

func (w *Worker) handleQueued(ctx context.Context, event any) error {
	queued, ok := event.(*events.ExecutionQueued)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.run_execution",
		attribute.String(otelhelper.ExecutionIDKey, queued.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, queued.WorkflowID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	if queued.DispatchAt != nil {
		if delay := time.Until(*queued.DispatchAt); delay > 0 {
			w.logger.InfoContext(ctx, "Holding execution until dispatch time",
				"execution_id", queued.ExecutionID, "dispatch_at", queued.DispatchAt)

			if err := w.wait(ctx, delay); err != nil {
				return err
			}
		}
	}

	if err := w.orchestrator.RunExecution(ctx, queued.ExecutionID); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

func (w *Worker) handleCancelRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.ExecutionCancelRequested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	w.logger.InfoContext(ctx, "Cancel requested",
		"execution_id", request.ExecutionID, "requested_by", request.RequestedBy)
	w.orchestrator.RequestCancel(request.ExecutionID, request.RequestedBy)

	return nil
}
