// Package models defines the core domain models for the workflow automation engine.
package models

import (
	"fmt"
	"strings"
	"time"
)

// TriggerType classifies the domain event that can start a workflow.
type TriggerType string

const (
	TriggerRecordCreated TriggerType = "record_created"
	TriggerRecordUpdated TriggerType = "record_updated"
	TriggerRecordDeleted TriggerType = "record_deleted"
	TriggerRecordSaved   TriggerType = "record_saved" // Both create and update
	TriggerFieldChanged  TriggerType = "field_changed"
	TriggerTimeBased     TriggerType = "time_based"
	TriggerWebhook       TriggerType = "webhook"
	TriggerManual        TriggerType = "manual"
)

// TriggerTypes lists every valid trigger type.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerRecordCreated,
		TriggerRecordUpdated,
		TriggerRecordDeleted,
		TriggerRecordSaved,
		TriggerFieldChanged,
		TriggerTimeBased,
		TriggerWebhook,
		TriggerManual,
	}
}

// IsValid reports whether t is a member of the closed trigger set.
func (t TriggerType) IsValid() bool {
	for _, known := range TriggerTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// TriggerTiming restricts record triggers to create events, update events, or both.
type TriggerTiming string

const (
	TimingAll        TriggerTiming = "all"
	TimingCreateOnly TriggerTiming = "create_only"
	TimingUpdateOnly TriggerTiming = "update_only"
)

// FieldChangeType narrows field_changed matching to specific value transitions.
type FieldChangeType string

const (
	ChangeAny       FieldChangeType = "any"
	ChangeFromValue FieldChangeType = "from_value"
	ChangeToValue   FieldChangeType = "to_value"
	ChangeFromTo    FieldChangeType = "from_to"
)

// TriggerConfig carries trigger-type-specific settings.
type TriggerConfig struct {
	ChangeType FieldChangeType `json:"change_type,omitempty"`
	FromValue  any             `json:"from_value,omitempty"`
	ToValue    any             `json:"to_value,omitempty"`
}

// Workflow is an automation definition: a trigger, guard conditions and a step graph.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"        validate:"required,min=3"`
	Description string `json:"description"`

	// Module scopes the workflow to one record module; empty means all modules.
	Module   string `json:"module,omitempty"`
	IsActive bool   `json:"is_active"`

	// Priority orders candidate evaluation; higher runs first.
	Priority int `json:"priority"`

	TriggerType   TriggerType    `json:"trigger_type"   validate:"required"`
	TriggerConfig *TriggerConfig `json:"trigger_config,omitempty"`
	TriggerTiming TriggerTiming  `json:"trigger_timing,omitempty"`

	// WatchedFields is only relevant for field_changed; empty means any field.
	WatchedFields []string `json:"watched_fields,omitempty"`

	Conditions *ConditionTree `json:"conditions,omitempty"`

	RunOncePerRecord   bool `json:"run_once_per_record"`
	StopOnFirstMatch   bool `json:"stop_on_first_match"`
	AllowManualTrigger bool `json:"allow_manual_trigger"`

	// MaxExecutionsPerDay is the daily budget; nil means unlimited.
	MaxExecutionsPerDay *int `json:"max_executions_per_day,omitempty"`

	// ExecutionsToday is only valid for ExecutionsTodayDate; a stale date
	// reads as zero.
	ExecutionsToday     int    `json:"executions_today"`
	ExecutionsTodayDate string `json:"executions_today_date,omitempty"`

	// DelaySeconds defers dispatch of created executions.
	DelaySeconds int `json:"delay_seconds,omitempty"`

	ScheduleCron string `json:"schedule_cron,omitempty"`

	// WebhookSecret is stored for the ingress that authenticates inbound
	// webhooks; the engine never verifies it itself.
	WebhookSecret string `json:"webhook_secret,omitempty"`

	Steps []*WorkflowStep `json:"steps,omitempty"`

	ExecutionCount int        `json:"execution_count"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// MatchesTiming reports whether a create/update event passes the workflow's
// trigger timing restriction.
func (w *Workflow) MatchesTiming(isCreate bool) bool {
	switch w.TriggerTiming {
	case TimingCreateOnly:
		return isCreate
	case TimingUpdateOnly:
		return !isCreate
	default:
		return true
	}
}

// MatchesEventType reports whether the workflow's trigger type fires for the
// given event type. record_saved fires on both create and update, and
// field_changed workflows are also candidates on record_updated events.
func (w *Workflow) MatchesEventType(eventType TriggerType) bool {
	if w.TriggerType == eventType {
		return true
	}

	if w.TriggerType == TriggerRecordSaved {
		return eventType == TriggerRecordCreated || eventType == TriggerRecordUpdated
	}

	if w.TriggerType == TriggerFieldChanged {
		return eventType == TriggerRecordUpdated
	}

	return false
}

// MatchesFieldChange reports whether any watched field changed between old
// and new data according to the configured change type. An empty watched
// field set means any field qualifies.
func (w *Workflow) MatchesFieldChange(newData, oldData map[string]any, changedFields []string) bool {
	if newData == nil || oldData == nil {
		return false
	}

	watched := w.WatchedFields
	if len(watched) == 0 {
		watched = changedFields
	}

	changeType := ChangeAny

	var fromValue, toValue any

	if w.TriggerConfig != nil {
		if w.TriggerConfig.ChangeType != "" {
			changeType = w.TriggerConfig.ChangeType
		}

		fromValue = w.TriggerConfig.FromValue
		toValue = w.TriggerConfig.ToValue
	}

	for _, field := range watched {
		oldValue := nestedValue(oldData, field)
		newValue := nestedValue(newData, field)

		if looseEqual(oldValue, newValue) {
			continue
		}

		var matches bool

		switch changeType {
		case ChangeFromValue:
			matches = looseEqual(oldValue, fromValue)
		case ChangeToValue:
			matches = looseEqual(newValue, toValue)
		case ChangeFromTo:
			matches = looseEqual(oldValue, fromValue) && looseEqual(newValue, toValue)
		default:
			matches = true
		}

		if matches {
			return true
		}
	}

	return false
}

// ChangedFields returns the set of top-level fields whose value differs
// between old and new data.
func ChangedFields(newData, oldData map[string]any) []string {
	if newData == nil || oldData == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(newData)+len(oldData))
	for key := range newData {
		seen[key] = struct{}{}
	}

	for key := range oldData {
		seen[key] = struct{}{}
	}

	var changed []string

	for key := range seen {
		if !looseEqual(oldData[key], newData[key]) {
			changed = append(changed, key)
		}
	}

	return changed
}

// nestedValue resolves a dot-notation path against nested map data.
func nestedValue(data map[string]any, path string) any {
	var value any = data

	for _, key := range strings.Split(path, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil
		}

		value, ok = m[key]
		if !ok {
			return nil
		}
	}

	return value
}

// looseEqual compares values the way record data round-tripped through JSON
// compares: case-insensitive for strings, numerically for numbers.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(as, bs)
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		return af == bf
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
