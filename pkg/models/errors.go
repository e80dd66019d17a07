package models

import "fmt"

// InvalidTransitionError is raised when a state machine refuses a
// transition. It signals a bug in the caller, not a business failure.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition from %s to %s", e.Entity, e.From, e.To)
}

// ImmutabilityViolationError is raised when a mutation is attempted on an
// execution record that has reached a terminal state.
type ImmutabilityViolationError struct {
	Entity string
	ID     string
}

func (e *ImmutabilityViolationError) Error() string {
	return fmt.Sprintf("cannot modify %s %s: execution history is immutable", e.Entity, e.ID)
}
