package game

import "fmt"

// ValidationError describes a mutation input that was clamped or ignored.
// It is logged by the State, never returned to the mutator's caller.
type ValidationError struct {
	Field  FieldID
	Value  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value %d: %s", e.Field, e.Value, e.Reason)
}
