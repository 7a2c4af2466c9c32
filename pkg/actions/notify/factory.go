package notify

import (
	"context"

	"github.com/helixcrm/flowengine/pkg/protocol"
)

// ActionFactory creates send_notification actions bound to a notifier.
type ActionFactory struct {
	notifier protocol.Notifier
}

func NewActionFactory(notifier protocol.Notifier) *ActionFactory {
	return &ActionFactory{notifier: notifier}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.notifier)
}

func (f *ActionFactory) ID() string {
	return "send_notification"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_ids": map[string]any{
				"description": "Target user or list of users. Supports templating.",
				"oneOf": []map[string]any{
					{"type": "string"},
					{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
				},
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Short headline. Supports templating.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Notification body. Supports templating.",
			},
			"data": map[string]any{
				"type":        "object",
				"description": "Extra payload handed to the notification channel.",
			},
		},
		"required":             []string{"user_ids", "message"},
		"additionalProperties": false,
	}
}
