// Package email provides the send_email action.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/helixcrm/flowengine/pkg/models"
	"github.com/helixcrm/flowengine/pkg/protocol"
	"github.com/helixcrm/flowengine/pkg/template"
)

var (
	// ErrRecipientsRequired is returned when the configuration names no recipients.
	ErrRecipientsRequired = errors.New("email recipients are required")
	// ErrSubjectRequired is returned when the configuration has no subject.
	ErrSubjectRequired = errors.New("email subject is required")
)

// Action sends an email through the configured mailer. Recipients, subject
// and body support templating against the execution context.
type Action struct {
	config map[string]any
	mailer protocol.Mailer
}

// NewAction creates a send_email action from step configuration.
func NewAction(config map[string]any, mailer protocol.Mailer) (*Action, error) {
	action := &Action{config: config, mailer: mailer}

	if err := action.Validate(context.Background()); err != nil {
		return nil, err
	}

	return action, nil
}

func (a *Action) Validate(_ context.Context) error {
	if len(recipients(a.config, "to")) == 0 {
		return ErrRecipientsRequired
	}

	if subject, _ := a.config["subject"].(string); subject == "" {
		return ErrSubjectRequired
	}

	return nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "email_action")

	rendered, err := template.RenderConfig(a.config, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render email config: %w", err)
	}

	message := protocol.EmailMessage{
		To:      recipients(rendered, "to"),
		Cc:      recipients(rendered, "cc"),
		Subject: fmt.Sprintf("%v", rendered["subject"]),
	}

	if body, ok := rendered["body"].(string); ok {
		message.Body = body
	}

	if name, ok := rendered["template"].(string); ok {
		message.Template = name
	}

	if data, ok := rendered["data"].(map[string]any); ok {
		message.Data = data
	}

	logger.InfoContext(ctx, "Sending email", "to", message.To, "subject", message.Subject)

	if err := a.mailer.Send(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	return map[string]any{
		"sent":       true,
		"recipients": len(message.To) + len(message.Cc),
	}, nil
}

// recipients accepts both a single address and a list.
func recipients(config map[string]any, key string) []string {
	switch value := config[key].(type) {
	case string:
		if value == "" {
			return nil
		}

		return []string{value}
	case []string:
		return value
	case []any:
		addresses := make([]string, 0, len(value))

		for _, item := range value {
			if str, ok := item.(string); ok && str != "" {
				addresses = append(addresses, str)
			}
		}

		return addresses
	default:
		return nil
	}
}
