package webhook

import (
	"context"

	"github.com/helixcrm/flowengine/pkg/protocol"
)

// ActionFactory creates webhook actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) ID() string {
	return "webhook"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Endpoint to deliver to. Supports templating against the execution context.",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use.",
				"default":     "POST",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Headers to include. Values support templating.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports templating for dynamic JSON payloads.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Per-delivery timeout.",
				"minimum":     1,
				"maximum":     300,
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}
