// Package notify provides the send_notification action.
package notify

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
	// ErrMessageRequired is returned when the configuration has no message text.
	ErrMessageRequired = errors.New("notification message is required")
	// ErrTargetsRequired is returned when the configuration names no target users.
	ErrTargetsRequired = errors.New("notification targets are required")
)

// Action sends an in-app notification to one or more users.
type Action struct {
	config   map[string]any
	notifier protocol.Notifier
}

func NewAction(config map[string]any, notifier protocol.Notifier) (*Action, error) {
	action := &Action{config: config, notifier: notifier}

	if err := action.Validate(context.Background()); err != nil {
		return nil, err
	}

	return action, nil
}

func (a *Action) Validate(_ context.Context) error {
	if message, _ := a.config["message"].(string); message == "" {
		return ErrMessageRequired
	}

	if len(userIDs(a.config)) == 0 {
		return ErrTargetsRequired
	}

	return nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "notify_action")

	rendered, err := template.RenderConfig(a.config, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render notification config: %w", err)
	}

	notification := protocol.Notification{
		UserIDs: userIDs(rendered),
		Message: fmt.Sprintf("%v", rendered["message"]),
	}

	if title, ok := rendered["title"].(string); ok {
		notification.Title = title
	}

	if data, ok := rendered["data"].(map[string]any); ok {
		notification.Data = data
	}

	logger.InfoContext(ctx, "Sending notification", "user_count", len(notification.UserIDs))

	if err := a.notifier.Notify(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to send notification: %w", err)
	}

	return map[string]any{"notified": len(notification.UserIDs)}, nil
}

func userIDs(config map[string]any) []string {
	switch value := config["user_ids"].(type) {
	case string:
		if value == "" {
			return nil
		}

		return []string{value}
	case []string:
		return value
	case []any:
		ids := make([]string, 0, len(value))

		for _, item := range value {
			if str, ok := item.(string); ok && str != "" {
				ids = append(ids, str)
			}
		}

		return ids
	default:
		return nil
	}
}
