// Package branch provides the condition_branch action. The action itself
// only evaluates its condition tree; the orchestrator routes on the result
// through the step's goto targets.
package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/helixcrm/flowengine/pkg/conditions"
	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/protocol"
)

// Action evaluates a condition tree against the execution context and
// reports whether it matched.
type Action struct {
	tree      *models.ConditionTree
	evaluator *conditions.Evaluator
}

func NewAction(config map[string]any) (*Action, error) {
	action := &Action{evaluator: conditions.NewEvaluator()}

	raw, exists := config["conditions"]
	if !exists {
		return action, nil
	}

	// Round-trip through JSON to decode the generic config map into the tree.
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode branch conditions: %w", err)
	}

	var tree models.ConditionTree

	if err := json.Unmarshal(payload, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode branch conditions: %w", err)
	}

	action.tree = &tree

	return action, nil
}

func (a *Action) Validate(_ context.Context) error {
	return nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "branch_action")

	matched, err := a.evaluator.Evaluate(a.tree, executionCtx.EvaluationData())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate branch conditions: %w", err)
	}

	logger.InfoContext(ctx, "Branch evaluated", "matched", matched)

	return map[string]any{"matched": matched}, nil
}

// ActionFactory creates condition_branch actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) ID() string {
	return "condition_branch"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conditions": map[string]any{
				"type":        "object",
				"description": "Condition tree evaluated against the execution context.",
			},
		},
		"additionalProperties": false,
	}
}
