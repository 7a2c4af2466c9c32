package record

import (
	"context"

	"github.com/helixcrm/flowengine/pkg/protocol"
)

// ActionFactory creates one flavor of record action. The same factory type
// backs create_record, update_record, delete_record, assign_user, add_tag
// and remove_tag.
type ActionFactory struct {
	id        string
	operation Operation
	service   protocol.RecordService
}

func NewCreateFactory(service protocol.RecordService) *ActionFactory {
	return &ActionFactory{id: "create_record", operation: OpCreate, service: service}
}

func NewUpdateFactory(service protocol.RecordService) *ActionFactory {
	return &ActionFactory{id: "update_record", operation: OpUpdate, service: service}
}

func NewDeleteFactory(service protocol.RecordService) *ActionFactory {
	return &ActionFactory{id: "delete_record", operation: OpDelete, service: service}
}

func NewAssignUserFactory(service protocol.RecordService) *ActionFactory {
	return &ActionFactory{id: "assign_user", operation: OpAssign, service: service}
}

func NewAddTagFactory(service protocol.RecordService) *ActionFactory {
	return &ActionFactory{id: "add_tag", operation: OpAddTags, service: service}
}

func NewRemoveTagFactory(service protocol.RecordService) *ActionFactory {
	return &ActionFactory{id: "remove_tag", operation: OpRemoveTags, service: service}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return newAction(f.operation, config, f.service)
}

func (f *ActionFactory) ID() string {
	return f.id
}

func (f *ActionFactory) Schema() map[string]any {
	properties := map[string]any{
		"record_type": map[string]any{
			"type":        "string",
			"description": "Target record module. Defaults to the trigger record's module.",
		},
		"record_id": map[string]any{
			"type":        "string",
			"description": "Target record. Defaults to the trigger record. Supports templating.",
		},
	}

	var required []string

	switch f.operation {
	case OpCreate:
		properties["fields"] = map[string]any{
			"type":        "object",
			"description": "Field values for the new record. Values support templating.",
		}
		required = []string{"record_type", "fields"}
	case OpUpdate:
		properties["fields"] = map[string]any{
			"type":        "object",
			"description": "Field values to write. Values support templating.",
		}
		required = []string{"fields"}
	case OpAssign:
		properties["user_id"] = map[string]any{
			"type":        "string",
			"description": "User to make the record owner. Supports templating.",
		}
		required = []string{"user_id"}
	case OpAddTags, OpRemoveTags:
		properties["tags"] = map[string]any{
			"type":        "array",
			"description": "Tags to apply. Items support templating.",
			"items":       map[string]any{"type": "string"},
			"minItems":    1,
		}
		required = []string{"tags"}
	case OpDelete:
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}
