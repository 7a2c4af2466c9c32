package models

import "time"

// TriggerEvent is an incoming domain event handed to the trigger evaluator:
// a record mutation, a scheduler tick, an inbound webhook payload, or a
// manual trigger request.
type TriggerEvent struct {
	EventType TriggerType `json:"event_type" validate:"required"`

	// Module scopes the event to one record module.
	Module string `json:"module,omitempty"`

	RecordID   string `json:"record_id,omitempty"`
	RecordType string `json:"record_type,omitempty"`

	// RecordData is the record snapshot after the mutation.
	RecordData map[string]any `json:"record_data,omitempty"`

	// OldData is the snapshot before the mutation, for update events.
	OldData map[string]any `json:"old_data,omitempty"`

	// ChangedFields lists mutated top-level fields; computed from the
	// snapshots when absent.
	ChangedFields []string `json:"changed_fields,omitempty"`

	// ActorID is the user who caused the event, when known.
	ActorID string `json:"actor_id,omitempty"`

	// WorkflowID restricts evaluation to a single workflow (manual and
	// time_based triggers).
	WorkflowID string `json:"workflow_id,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// IsCreate reports whether the event is a record creation.
func (e *TriggerEvent) IsCreate() bool {
	return e.EventType == TriggerRecordCreated
}
