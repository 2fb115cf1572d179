package keyschedule

import "errors"

// Key schedule errors.
var (
	// ErrInvalidStage is returned when an operation or getter is called
	// outside the stage it is defined for.
	ErrInvalidStage = errors.New("keyschedule: operation invalid in current stage")
)
