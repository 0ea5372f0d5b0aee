package monitoring

import (
	"errors"
	"fmt"
)

// ErrorType categorizes errors raised by the monitoring core.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeDependency ErrorType = "dependency_unavailable"
)

// Error is the standard error shape for the monitoring core. Ingestion-path
// validation failures are recovered locally by the collector; query-path
// failures surface to the caller.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error for a malformed sample or
// query parameter.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not-found error (e.g., unknown alert id).
func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewDependencyError creates a dependency-unavailable error wrapping the
// probe failure.
func NewDependencyError(message string, cause error) *Error {
	return &Error{Type: ErrorTypeDependency, Message: message, Cause: cause}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsDependencyUnavailable reports whether err is a dependency failure.
func IsDependencyUnavailable(err error) bool {
	return hasType(err, ErrorTypeDependency)
}

func hasType(err error, t ErrorType) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Type == t
	}
	return false
}
