// Package record provides the CRM record mutation actions: create, update,
// delete, owner assignment and tagging.
package record

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
	// ErrRecordTypeRequired is returned when the configuration omits the record type.
	ErrRecordTypeRequired = errors.New("record type is required")
	// ErrRecordIDRequired is returned when an action targeting an existing record has no record ID.
	ErrRecordIDRequired = errors.New("record ID is required")
	// ErrFieldsRequired is returned when a create or update has no fields to write.
	ErrFieldsRequired = errors.New("fields are required")
	// ErrUserIDRequired is returned when assign_user has no user to assign.
	ErrUserIDRequired = errors.New("user ID is required")
	// ErrTagsRequired is returned when a tag action has no tags.
	ErrTagsRequired = errors.New("tags are required")
)

// Operation selects which record mutation an Action performs.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpAssign     Operation = "assign"
	OpAddTags    Operation = "add_tags"
	OpRemoveTags Operation = "remove_tags"
)

// Action performs one mutation against the CRM record service. The raw
// config is templated against the execution context at execute time, so
// field values can reference the trigger record and step outputs.
type Action struct {
	operation Operation
	config    map[string]any
	service   protocol.RecordService
}

func newAction(operation Operation, config map[string]any, service protocol.RecordService) (*Action, error) {
	action := &Action{
		operation: operation,
		config:    config,
		service:   service,
	}

	if err := action.Validate(context.Background()); err != nil {
		return nil, err
	}

	return action, nil
}

// Validate checks the static shape of the configuration.
func (a *Action) Validate(_ context.Context) error {
	switch a.operation {
	case OpCreate:
		if _, ok := a.config["fields"].(map[string]any); !ok {
			return ErrFieldsRequired
		}
	case OpUpdate:
		if _, ok := a.config["fields"].(map[string]any); !ok {
			return ErrFieldsRequired
		}
	case OpAssign:
		if stringValue(a.config, "user_id") == "" {
			return ErrUserIDRequired
		}
	case OpAddTags, OpRemoveTags:
		if len(listValue(a.config, "tags")) == 0 {
			return ErrTagsRequired
		}
	case OpDelete:
	}

	return nil
}

// Execute renders the config and performs the mutation. Update, delete,
// assign and tag operations default to the trigger record when the config
// names no target.
func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "record_action", "operation", string(a.operation))

	rendered, err := template.RenderConfig(a.config, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render record action config: %w", err)
	}

	recordType := stringValue(rendered, "record_type")
	recordID := stringValue(rendered, "record_id")

	if recordType == "" {
		recordType = triggerRecordField(executionCtx, "type")
	}

	if recordID == "" {
		recordID = triggerRecordField(executionCtx, "id")
	}

	if recordType == "" {
		return nil, ErrRecordTypeRequired
	}

	if a.operation != OpCreate && recordID == "" {
		return nil, ErrRecordIDRequired
	}

	logger.InfoContext(ctx, "Executing record action", "record_type", recordType, "record_id", recordID)

	switch a.operation {
	case OpCreate:
		fields, _ := rendered["fields"].(map[string]any)

		created, err := a.service.CreateRecord(ctx, recordType, fields)
		if err != nil {
			return nil, fmt.Errorf("failed to create record: %w", err)
		}

		return map[string]any{"record": created}, nil
	case OpUpdate:
		fields, _ := rendered["fields"].(map[string]any)

		updated, err := a.service.UpdateRecord(ctx, recordType, recordID, fields)
		if err != nil {
			return nil, fmt.Errorf("failed to update record: %w", err)
		}

		return map[string]any{"record": updated}, nil
	case OpDelete:
		if err := a.service.DeleteRecord(ctx, recordType, recordID); err != nil {
			return nil, fmt.Errorf("failed to delete record: %w", err)
		}

		return map[string]any{"deleted": true, "record_id": recordID}, nil
	case OpAssign:
		userID := stringValue(rendered, "user_id")

		if err := a.service.AssignOwner(ctx, recordType, recordID, userID); err != nil {
			return nil, fmt.Errorf("failed to assign owner: %w", err)
		}

		return map[string]any{"assigned": true, "user_id": userID}, nil
	case OpAddTags:
		tags := listValue(rendered, "tags")

		if err := a.service.AddTags(ctx, recordType, recordID, tags); err != nil {
			return nil, fmt.Errorf("failed to add tags: %w", err)
		}

		return map[string]any{"tags": tags}, nil
	case OpRemoveTags:
		tags := listValue(rendered, "tags")

		if err := a.service.RemoveTags(ctx, recordType, recordID, tags); err != nil {
			return nil, fmt.Errorf("failed to remove tags: %w", err)
		}

		return map[string]any{"tags": tags}, nil
	default:
		return nil, fmt.Errorf("unknown record operation: %s", a.operation)
	}
}

func triggerRecordField(executionCtx models.ExecutionContext, key string) string {
	record, ok := executionCtx.Data["record"].(map[string]any)
	if !ok {
		return ""
	}

	if key == "type" {
		if value, ok := executionCtx.Data["record_type"].(string); ok {
			return value
		}
	}

	value, _ := record[key].(string)

	return value
}

func stringValue(config map[string]any, key string) string {
	value, _ := config[key].(string)

	return value
}

func listValue(config map[string]any, key string) []string {
	raw, ok := config[key].([]any)
	if !ok {
		if direct, ok := config[key].([]string); ok {
			return direct
		}

		return nil
	}

	values := make([]string, 0, len(raw))

	for _, item := range raw {
		if str, ok := item.(string); ok {
			values = append(values, str)
		}
	}

	return values
}
