package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors into a stable taxonomy. Callers branch
// on the kind; the message is for humans.
type ErrorKind string

const (
	// KindConfiguration covers invalid identifiers and malformed settings.
	KindConfiguration ErrorKind = "configuration"

	// KindContention covers resources that exist but are held by someone else.
	KindContention ErrorKind = "contention"

	// KindUnavailable covers resources that do not exist (profile, session).
	KindUnavailable ErrorKind = "unavailable"

	// KindTimeout covers bounded waits that elapsed (launch, command, close).
	KindTimeout ErrorKind = "timeout"

	// KindValidation covers schema violations and missing bindings.
	KindValidation ErrorKind = "validation"

	// KindExecution covers a command whose remote operation failed.
	KindExecution ErrorKind = "execution"

	// KindProcess covers a browser process that crashed or exited unexpectedly.
	KindProcess ErrorKind = "process"
)

// Sentinel errors for the conditions callers are expected to test for.
var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileBusy       = errors.New("profile is held by a live session")
	ErrSessionNotFound   = errors.New("session not found")
	ErrLaunchTimeout     = errors.New("browser did not become ready in time")
	ErrMissingBinding    = errors.New("required parameter has no binding and no default")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Error is the structured error surfaced at package boundaries. It always
// carries a taxonomy kind and a human-readable message; internal state is
// never substituted for it.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a structured error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a taxonomy kind and message.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the taxonomy kind of err, or an empty kind if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
