package models

// ConditionLogic combines condition or group results.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "and"
	LogicOr  ConditionLogic = "or"
)

// ValueType tells the evaluator how to resolve a condition's expected value.
type ValueType string

const (
	ValueStatic          ValueType = "static"
	ValueField           ValueType = "field"
	ValueCurrentDate     ValueType = "current_date"
	ValueCurrentDatetime ValueType = "current_datetime"
)

// Condition is a single field/operator/value predicate evaluated against a
// context snapshot. Field uses dot notation into the context.
type Condition struct {
	Field     string    `json:"field"    validate:"required"`
	Operator  string    `json:"operator" validate:"required"`
	Value     any       `json:"value,omitempty"`
	ValueType ValueType `json:"value_type,omitempty"`
}

// ConditionGroup is one group of predicates joined by Logic.
type ConditionGroup struct {
	Logic      ConditionLogic `json:"logic,omitempty"`
	Conditions []Condition    `json:"conditions"`
}

// ConditionTree is a nested AND/OR tree: groups joined by Logic, or a flat
// condition list (implicit AND). An empty tree matches everything.
type ConditionTree struct {
	Logic  ConditionLogic   `json:"logic,omitempty"`
	Groups []ConditionGroup `json:"groups,omitempty"`

	// Conditions holds the flat form; ignored when Groups is set.
	Conditions []Condition `json:"conditions,omitempty"`
}

// IsEmpty reports whether the tree contains no predicates at all.
func (t *ConditionTree) IsEmpty() bool {
	if t == nil {
		return true
	}

	if len(t.Conditions) > 0 {
		return false
	}

	for _, group := range t.Groups {
		if len(group.Conditions) > 0 {
			return false
		}
	}

	return true
}
