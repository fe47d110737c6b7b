// Package fault defines the error taxonomy shared by the simulation core.
//
// Every rejection the authority produces is a *Error carrying a Code. The
// gateway turns these into intent results; nothing in this taxonomy is
// allowed to stop the authority loop.
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes a rejection.
type Code string

const (
	// CodeValidation marks a malformed or unauthorized request.
	CodeValidation Code = "VALIDATION"

	// CodeInvalidState marks a request that is well formed but illegal for
	// the current state of the entity it targets.
	CodeInvalidState Code = "INVALID_STATE"

	// CodeNotFound marks a reference to an unknown id.
	CodeNotFound Code = "NOT_FOUND"

	// CodeTimeout marks an automatic expiry. It is reported through state
	// changes, never to an actor as a fault.
	CodeTimeout Code = "TIMEOUT"
)

// Error is a typed rejection.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Entity names the kind of thing involved ("order", "session", "menu_item").
	Entity string

	// ID identifies the entity, when known.
	ID string

	// Err is an optional underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s: %s (%s=%s)", e.Code, e.Message, e.Entity, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// InvalidState creates a CodeInvalidState error for an entity.
func InvalidState(entity, id, format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
		ID:      id,
	}
}

// NotFound creates a CodeNotFound error for an entity.
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: entity + " not found",
		Entity:  entity,
		ID:      id,
	}
}

// Timeout creates a CodeTimeout error for an entity.
func Timeout(entity, id, format string, args ...any) *Error {
	return &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
		ID:      id,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsInvalidState reports whether err is an illegal state transition.
func IsInvalidState(err error) bool { return CodeOf(err) == CodeInvalidState }

// IsNotFound reports whether err refers to an unknown id.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsTimeout reports whether err is an expiry.
func IsTimeout(err error) bool { return CodeOf(err) == CodeTimeout }
