// Package errors provides coded errors shared across the service layers.
// Codes classify a failure for callers (and the HTTP surface) without
// parsing messages.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// ErrCodeNotFound signals a missing template, request, or referenced user.
	ErrCodeNotFound Code = "not_found"
	// ErrCodeInvalidInput signals malformed or missing caller input.
	ErrCodeInvalidInput Code = "invalid_input"
	// ErrCodeBusinessRule signals a domain rule refusal: zero-level chain,
	// already finalized request, action out of level order, blank rejection
	// reason, non-sequential level configuration.
	ErrCodeBusinessRule Code = "business_rule_violation"
	// ErrCodeUnauthorized signals an actor who is not the expected approver.
	ErrCodeUnauthorized Code = "unauthorized"
	// ErrCodeConflict signals a concurrent-writer loss (stale version or
	// lost row lock race). Callers may retry.
	ErrCodeConflict Code = "conflict"
	// ErrCodeUnavailable signals a dependency (database, broker, identity
	// service) that could not be reached.
	ErrCodeUnavailable Code = "unavailable"
	// ErrCodeInternal is the fallback for unexpected failures.
	ErrCodeInternal Code = "internal"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports code equality so errors.Is works across wrap layers.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound creates a not-found error naming the resource and its id.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resource, id)
}

// InvalidInput creates a validation error for a specific field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "invalid %s: %s", field, message)
}

// BusinessRule creates a domain rule violation error.
func BusinessRule(message string) *Error {
	return New(ErrCodeBusinessRule, message)
}

// Unauthorized creates an authorization refusal error.
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// Conflict creates a concurrent-modification error.
func Conflict(message string) *Error {
	return New(ErrCodeConflict, message)
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when none is present.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error's code to an HTTP status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return 404
	case ErrCodeInvalidInput:
		return 400
	case ErrCodeBusinessRule:
		return 422
	case ErrCodeUnauthorized:
		return 403
	case ErrCodeConflict:
		return 409
	case ErrCodeUnavailable:
		return 503
	default:
		return 500
	}
}
