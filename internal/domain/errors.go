package domain

import "fmt"

// ValidationError is a user-correctable input problem. Message is shown verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError hides the failed rule from callers.
type AuthorizationError struct {
	Action string
}

func (e AuthorizationError) Error() string {
	return "not permitted"
}

// ConflictError reports an invalid state transition along with the current state.
type ConflictError struct {
	Entity  string
	ID      string
	State   string
	Message string
}

func (e ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s is %s", e.Entity, e.ID, e.State)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
