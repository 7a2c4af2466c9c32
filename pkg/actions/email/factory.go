package email

import (
	"context"

	"github.com/helixcrm/flowengine/pkg/protocol"
)

// ActionFactory creates send_email actions bound to a mailer.
type ActionFactory struct {
	mailer protocol.Mailer
}

func NewActionFactory(mailer protocol.Mailer) *ActionFactory {
	return &ActionFactory{mailer: mailer}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.mailer)
}

func (f *ActionFactory) ID() string {
	return "send_email"
}

func (f *ActionFactory) Schema() map[string]any {
	addressList := map[string]any{
		"oneOf": []map[string]any{
			{"type": "string"},
			{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"description": "Recipient address or list. Supports templating.",
				"oneOf":       addressList["oneOf"],
			},
			"cc": map[string]any{
				"description": "Carbon copy address or list. Supports templating.",
				"oneOf":       addressList["oneOf"],
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Subject line. Supports templating.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Plain body. Supports templating. Ignored when template is set.",
			},
			"template": map[string]any{
				"type":        "string",
				"description": "Name of a mailer-side template to render instead of body.",
			},
			"data": map[string]any{
				"type":        "object",
				"description": "Data handed to the mailer-side template.",
			},
		},
		"required":             []string{"to", "subject"},
		"additionalProperties": false,
	}
}
