// Package registry resolves action types to their handler factories.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/protocol"
)

// Registry holds the action factories available to the engine, resolved once
// at startup.
type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// AvailableActions returns the registered action type IDs.
func (r *Registry) AvailableActions() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}

// CreateAction validates config against the factory's schema and builds the
// handler. An unregistered action type or invalid config is a configuration
// error, not a runtime failure.
func (r *Registry) CreateAction(ctx context.Context, actionType models.ActionType, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[string(actionType)]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	if schema := factory.Schema(); schema != nil {
		if err := validateConfig(config, schema); err != nil {
			return nil, fmt.Errorf("invalid config for action type '%s': %w", actionType, err)
		}
	}

	return factory.Create(ctx, config)
}

func validateConfig(config, schema map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}

	return nil
}
