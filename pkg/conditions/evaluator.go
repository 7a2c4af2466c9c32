// Package conditions evaluates nested AND/OR condition trees against a
// workflow execution context.
package conditions

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/helixcrm/flowengine/pkg/models"
)

// Evaluator is stateless and safe for concurrent use.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate walks the condition tree against the context. An empty tree
// matches. Any malformed condition (unknown operator, bad regex, broken
// formula) returns an error so the caller can treat it as a configuration
// problem rather than silently matching or dropping.
func (e *Evaluator) Evaluate(tree *models.ConditionTree, context map[string]any) (bool, error) {
	if tree.IsEmpty() {
		return true, nil
	}

	if len(tree.Groups) > 0 {
		logic := tree.Logic
		if logic == "" {
			logic = models.LogicAnd
		}

		results := make([]bool, 0, len(tree.Groups))

		for _, group := range tree.Groups {
			result, err := e.evaluateGroup(group.Conditions, group.Logic, context)
			if err != nil {
				return false, err
			}

			results = append(results, result)
		}

		return combine(results, logic), nil
	}

	return e.evaluateGroup(tree.Conditions, tree.Logic, context)
}

func (e *Evaluator) evaluateGroup(conditions []models.Condition, logic models.ConditionLogic, context map[string]any) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	if logic == "" {
		logic = models.LogicAnd
	}

	results := make([]bool, 0, len(conditions))

	for _, condition := range conditions {
		result, err := e.evaluateCondition(condition, context)
		if err != nil {
			return false, fmt.Errorf("condition on field %q: %w", condition.Field, err)
		}

		results = append(results, result)
	}

	return combine(results, logic), nil
}

func combine(results []bool, logic models.ConditionLogic) bool {
	if logic == models.LogicOr {
		for _, result := range results {
			if result {
				return true
			}
		}

		return false
	}

	for _, result := range results {
		if !result {
			return false
		}
	}

	return true
}

func (e *Evaluator) evaluateCondition(condition models.Condition, context map[string]any) (bool, error) {
	// Change operators inspect the changes map by field name rather than the
	// field's current value.
	switch condition.Operator {
	case "changed":
		return fieldChanged(context, condition.Field), nil
	case "changed_from":
		return fieldChangedDirection(context, condition.Field, condition.Value, "old"), nil
	case "changed_to":
		return fieldChangedDirection(context, condition.Field, condition.Value, "new"), nil
	}

	actual := Lookup(context, condition.Field)

	expected, err := resolveValue(condition.Value, condition.ValueType, context)
	if err != nil {
		return false, err
	}

	return compare(actual, condition.Operator, expected, context)
}

func resolveValue(value any, valueType models.ValueType, context map[string]any) (any, error) {
	switch valueType {
	case models.ValueField:
		path, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field value type requires a string path, got %T", value)
		}

		return Lookup(context, path), nil
	case models.ValueCurrentDate:
		return time.Now().UTC().Format("2006-01-02"), nil
	case models.ValueCurrentDatetime:
		return time.Now().UTC().Format(time.RFC3339), nil
	default:
		return value, nil
	}
}

// Lookup resolves a dot-notation path against nested map data, returning nil
// when any segment is missing.
func Lookup(data map[string]any, path string) any {
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

//nolint:cyclop // the operator table is one flat dispatch
func compare(actual any, operator string, expected any, context map[string]any) (bool, error) {
	switch operator {
	case "equals", "eq", "==":
		return looseEqual(actual, expected), nil
	case "not_equals", "neq", "!=":
		return !looseEqual(actual, expected), nil
	case "greater_than", "gt", ">":
		return compareNumeric(actual, expected, func(a, b float64) bool { return a > b }), nil
	case "greater_than_or_equals", "gte", ">=":
		return compareNumeric(actual, expected, func(a, b float64) bool { return a >= b }), nil
	case "less_than", "lt", "<":
		return compareNumeric(actual, expected, func(a, b float64) bool { return a < b }), nil
	case "less_than_or_equals", "lte", "<=":
		return compareNumeric(actual, expected, func(a, b float64) bool { return a <= b }), nil

	case "contains":
		return compareString(actual, expected, strings.Contains), nil
	case "not_contains":
		return !compareString(actual, expected, strings.Contains), nil
	case "starts_with":
		return compareString(actual, expected, strings.HasPrefix), nil
	case "ends_with":
		return compareString(actual, expected, strings.HasSuffix), nil
	case "regex", "matches_pattern":
		return compareRegex(actual, expected)

	case "is_empty":
		return isEmpty(actual), nil
	case "is_not_empty":
		return !isEmpty(actual), nil
	case "is_null":
		return actual == nil, nil
	case "is_not_null":
		return actual != nil, nil

	case "in":
		return inList(actual, expected), nil
	case "not_in":
		return !inList(actual, expected), nil
	case "array_contains":
		return inList(expected, actual), nil

	case "is_true":
		return isTruthy(actual), nil
	case "is_false":
		return isFalsy(actual), nil

	case "date_equals":
		return compareDates(actual, expected, func(a, b time.Time) bool { return a.Equal(b) })
	case "date_before":
		return compareDates(actual, expected, func(a, b time.Time) bool { return a.Before(b) })
	case "date_after":
		return compareDates(actual, expected, func(a, b time.Time) bool { return a.After(b) })
	case "is_today":
		return compareDates(actual, time.Now().UTC().Format("2006-01-02"), sameDay)

	case "formula":
		return evaluateFormula(expected, context)

	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, operator)
	}
}

// evaluateFormula runs a govaluate expression with the flattened context as
// parameters. The expression must produce a boolean.
func evaluateFormula(expected any, context map[string]any) (bool, error) {
	expr, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("formula operator requires a string expression, got %T", expected)
	}

	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidFormula, err)
	}

	result, err := expression.Evaluate(flatten("", context))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidFormula, err)
	}

	boolean, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression returned %T, want bool", ErrInvalidFormula, result)
	}

	return boolean, nil
}

// flatten turns nested context maps into dotted govaluate parameter names.
func flatten(prefix string, data map[string]any) map[string]any {
	flat := make(map[string]any)

	for key, value := range data {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok {
			for k, v := range flatten(name, nested) {
				flat[k] = v
			}

			continue
		}

		flat[name] = value
	}

	return flat
}

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

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumeric(a, b any, op func(a, b float64) bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	return aok && bok && op(af, bf)
}

func compareString(a, b any, op func(a, b string) bool) bool {
	as, aok := a.(string)
	bs, bok := b.(string)

	return aok && bok && op(strings.ToLower(as), strings.ToLower(bs))
}

func compareRegex(actual, pattern any) (bool, error) {
	s, sok := actual.(string)

	p, pok := pattern.(string)
	if !pok {
		return false, fmt.Errorf("regex operator requires a string pattern, got %T", pattern)
	}

	re, err := regexp.Compile(p)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	return sok && re.MatchString(s), nil
}

func isEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case []any:
		return len(value) == 0
	case map[string]any:
		return len(value) == 0
	default:
		if f, ok := toFloat(v); ok {
			return f == 0
		}

		return false
	}
}

func inList(needle, haystack any) bool {
	list, ok := haystack.([]any)
	if !ok {
		return false
	}

	for _, item := range list {
		if looseEqual(needle, item) {
			return true
		}
	}

	return false
}

func isTruthy(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		return value == "1" || strings.EqualFold(value, "true")
	default:
		f, ok := toFloat(v)

		return ok && f == 1
	}
}

func isFalsy(v any) bool {
	switch value := v.(type) {
	case bool:
		return !value
	case string:
		return value == "0" || strings.EqualFold(value, "false")
	default:
		f, ok := toFloat(v)

		return ok && f == 0
	}
}

func compareDates(actual, expected any, op func(a, b time.Time) bool) (bool, error) {
	a, aok := parseDate(actual)

	b, bok := parseDate(expected)
	if !bok {
		return false, fmt.Errorf("date operator requires a parseable date, got %v", expected)
	}

	return aok && op(a, b), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}

func parseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		if t, ok := v.(time.Time); ok {
			return t, true
		}

		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// fieldChanged consults the changes map the trigger evaluator puts in the
// context ({field: {old, new}}).
func fieldChanged(context map[string]any, field string) bool {
	changes, ok := context["changes"].(map[string]any)
	if !ok {
		return false
	}

	_, ok = changes[field]

	return ok
}

func fieldChangedDirection(context map[string]any, field string, expected any, side string) bool {
	changes, ok := context["changes"].(map[string]any)
	if !ok {
		return false
	}

	entry, ok := changes[field].(map[string]any)
	if !ok {
		return false
	}

	return looseEqual(entry[side], expected)
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
