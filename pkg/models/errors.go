package models

import "errors"

// ErrInvalidTransition indicates an attempt to leave a state the execution
// lifecycle does not permit leaving, including any terminal state.
var ErrInvalidTransition = errors.New("invalid execution status transition")
