package models

// ActionType is the closed set of step actions the engine can dispatch.
type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionCreateRecord     ActionType = "create_record"
	ActionUpdateRecord     ActionType = "update_record"
	ActionDeleteRecord     ActionType = "delete_record"
	ActionWebhook          ActionType = "webhook"
	ActionAssignUser       ActionType = "assign_user"
	ActionAddTag           ActionType = "add_tag"
	ActionRemoveTag        ActionType = "remove_tag"
	ActionSendNotification ActionType = "send_notification"
	ActionDelay            ActionType = "delay"
	ActionConditionBranch  ActionType = "condition_branch"
)

// ActionTypes lists every valid action type.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionSendEmail,
		ActionCreateRecord,
		ActionUpdateRecord,
		ActionDeleteRecord,
		ActionWebhook,
		ActionAssignUser,
		ActionAddTag,
		ActionRemoveTag,
		ActionSendNotification,
		ActionDelay,
		ActionConditionBranch,
	}
}

// IsValid reports whether t is a member of the closed action set.
func (t ActionType) IsValid() bool {
	for _, known := range ActionTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// WorkflowStep is one node in a workflow's step graph. Default sequencing
// follows Order ascending; OnSuccessGoto/OnFailureGoto override the successor
// and may form cycles, which the orchestrator bounds.
type WorkflowStep struct {
	ID         string `json:"id"          validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	Name       string `json:"name"        validate:"required"`

	Order int `json:"order"`

	ActionType   ActionType     `json:"action_type" validate:"required"`
	ActionConfig map[string]any `json:"action_config,omitempty"`

	// Conditions gate this single step; false means skip, not failure.
	Conditions *ConditionTree `json:"conditions,omitempty"`

	// BranchID groups parallel steps of the same order into one wave.
	BranchID   string `json:"branch_id,omitempty"`
	IsParallel bool   `json:"is_parallel"`

	ContinueOnError   bool `json:"continue_on_error"`
	RetryCount        int  `json:"retry_count"`
	RetryDelaySeconds int  `json:"retry_delay_seconds"`

	// Goto targets must reference a step of the same workflow.
	OnSuccessGoto *string `json:"on_success_goto,omitempty"`
	OnFailureGoto *string `json:"on_failure_goto,omitempty"`

	// TimeoutSeconds bounds a single handler invocation; 0 means unbounded.
	TimeoutSeconds int `json:"timeout_seconds"`

	IsAsync    bool `json:"is_async"`
	IsDisabled bool `json:"is_disabled"`
}
