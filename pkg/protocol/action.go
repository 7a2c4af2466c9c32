// Package protocol defines the contracts between the engine and the action
// handlers it dispatches.
package protocol

import (
	"context"
	"log/slog"

	"github.com/helixcrm/flowengine/pkg/models"
)

// Action is one executable step handler. Execute returns the step output,
// which the orchestrator records under the step's ID in the execution
// context.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
	Validate(ctx context.Context) error
}

// ActionFactory builds Action instances from a step's action config. The
// registry validates the config against Schema before Create is called.
type ActionFactory interface {
	Create(ctx context.Context, config map[string]any) (Action, error)
	ID() string
	Schema() map[string]any
}
