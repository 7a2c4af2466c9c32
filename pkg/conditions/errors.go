package conditions

import "errors"

// Evaluation errors signal workflow configuration problems; the trigger
// evaluator skips the offending workflow and continues with the rest.
var (
	ErrUnknownOperator = errors.New("unknown condition operator")
	ErrInvalidPattern  = errors.New("invalid regex pattern")
	ErrInvalidFormula  = errors.New("invalid formula expression")
)
