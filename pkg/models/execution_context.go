package models

// ExecutionContext is the data snapshot handed to action handlers and
// condition evaluation while one execution runs. Data holds the trigger-time
// snapshot (record, old_record, changes, trigger, workflow); StepOutputs
// accumulates completed step results keyed by step ID.
type ExecutionContext struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Data        map[string]any `json:"data,omitempty"`
	StepOutputs map[string]any `json:"step_outputs,omitempty"`
}

// NewExecutionContext builds the context for an execution from its stored
// snapshot.
func NewExecutionContext(execution *WorkflowExecution) ExecutionContext {
	data := execution.ContextData
	if data == nil {
		data = make(map[string]any)
	}

	return ExecutionContext{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Data:        data,
		StepOutputs: make(map[string]any),
	}
}

// EvaluationData flattens the context into the map shape condition trees are
// evaluated against.
func (c *ExecutionContext) EvaluationData() map[string]any {
	merged := make(map[string]any, len(c.Data)+1)

	for key, value := range c.Data {
		merged[key] = value
	}

	merged["step_outputs"] = c.StepOutputs

	return merged
}
