package models

import "time"

// RunHistory is the uniqueness ledger entry enforcing run-once-per-record.
// The tuple (workflow, record, record type, trigger type) is unique; an
// insert conflict means the workflow already ran and must be skipped, not
// treated as an error.
type RunHistory struct {
	WorkflowID  string      `json:"workflow_id" validate:"required"`
	RecordID    string      `json:"record_id"   validate:"required"`
	RecordType  string      `json:"record_type" validate:"required"`
	TriggerType TriggerType `json:"trigger_type"`
	ExecutedAt  time.Time   `json:"executed_at"`
}
