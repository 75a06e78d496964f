// Package fault defines the error taxonomy shared by the HTTP surfaces.
//
// Every error that crosses a handler boundary carries a stable machine-readable
// Kind so API clients can branch without matching message strings.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

const (
	// KindValidation covers malformed input: bad RRULE, malformed ICS body,
	// end <= start, unknown strategy.
	KindValidation Kind = "validation"
	// KindNotFound covers missing tasks and calendars.
	KindNotFound Kind = "not_found"
	// KindConflict covers ETag mismatches on conditional writes.
	KindConflict Kind = "conflict"
	// KindForbidden covers cross-user access attempts.
	KindForbidden Kind = "forbidden"
)

// Error is a fault with a stable kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Validation builds a validation fault.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Validationf builds a validation fault with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found fault.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict builds a conflict fault.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Forbidden builds a forbidden fault.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Wrap attaches a cause to a fault, preserving the kind.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: err}
}

// KindOf extracts the kind from err, or "" if err is not a fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// HTTPStatus maps a fault kind to its HTTP status code. Unknown errors map
// to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusPreconditionFailed
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
