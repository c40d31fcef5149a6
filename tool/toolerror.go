package tool

import (
	"errors"
	"fmt"
)

// Error is a structured tool failure that preserves message and causal
// context while implementing the standard error interface. Errors nest via
// Cause: NewErrorWithCause converts the cause chain into *Error values that
// keep each message, so errors.As finds an *Error at every level, while
// errors.Is against the original cause value does not match. The Session
// Processor records a failed call's Error() text on the tool part.
//
// Grounded on the teacher's toolerrors.ToolError.
type Error struct {
	Message string
	Cause   *Error
}

// NewError constructs an Error with the given message.
func NewError(message string) *Error {
	if message == "" {
		message = "tool error"
	}
	return &Error{Message: message}
}

// NewErrorWithCause constructs an Error wrapping an underlying error.
func NewErrorWithCause(message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Message: message, Cause: errorFrom(cause)}
}

// Errorf formats a message and returns it as an *Error.
func Errorf(format string, args ...any) *Error {
	return NewError(fmt.Sprintf(format, args...))
}

func errorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Message: err.Error(), Cause: errorFrom(errors.Unwrap(err))}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
