// Package delay provides the delay action, which pauses an execution branch
// for a configured duration.
package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/protocol"
)

// ErrDurationInvalid is returned when the configured duration is missing or
// not positive.
var ErrDurationInvalid = errors.New("delay duration must be positive")

// maxDelay bounds a single in-process pause; longer waits belong in the
// workflow's dispatch delay.
const maxDelay = time.Hour

// Action waits for the configured number of seconds, honoring cancellation.
type Action struct {
	Duration time.Duration
}

func NewAction(config map[string]any) (*Action, error) {
	seconds, ok := config["seconds"].(float64)
	if !ok {
		if intSeconds, isInt := config["seconds"].(int); isInt {
			seconds = float64(intSeconds)
			ok = true
		}
	}

	if !ok || seconds <= 0 {
		return nil, ErrDurationInvalid
	}

	duration := time.Duration(seconds * float64(time.Second))
	if duration > maxDelay {
		return nil, fmt.Errorf("%w: %s exceeds the %s maximum", ErrDurationInvalid, duration, maxDelay)
	}

	return &Action{Duration: duration}, nil
}

func (a *Action) Validate(_ context.Context) error {
	if a.Duration <= 0 || a.Duration > maxDelay {
		return ErrDurationInvalid
	}

	return nil
}

func (a *Action) Execute(ctx context.Context, _ models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "delay_action")
	logger.InfoContext(ctx, "Delaying execution", "duration", a.Duration.String())

	timer := time.NewTimer(a.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"delayed_ms": a.Duration.Milliseconds()}, nil
	}
}

// ActionFactory creates delay actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) ID() string {
	return "delay"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"seconds": map[string]any{
				"type":        "number",
				"description": "How long to pause before the next step.",
				"minimum":     1,
				"maximum":     3600,
			},
		},
		"required":             []string{"seconds"},
		"additionalProperties": false,
	}
}
