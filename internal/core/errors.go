package core

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeValidationError = "validation_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeDuplicate       = "duplicate"
	ErrCodeTransient       = "transient"
	ErrCodeInconsistency   = "inconsistency"
)

// Error is the structured error returned by the scheduler and its providers.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewValidationError creates a validation_error. Returned before any store mutation.
func NewValidationError(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeValidationError,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a not_found error for a resource.
func NewNotFoundError(resourceType, resourceID string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewConflictError creates a conflict error. A caller may retry with a fresh read.
func NewConflictError(message string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

// NewDuplicateError reports an insert against a key that already exists.
func NewDuplicateError(resourceType, resourceID string) *Error {
	return &Error{
		Code:    ErrCodeDuplicate,
		Message: fmt.Sprintf("%s '%s' already exists.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewTransientError wraps an infrastructure failure of a queue or record store call.
func NewTransientError(op string, cause error) *Error {
	return &Error{
		Code:      ErrCodeTransient,
		Message:   fmt.Sprintf("%s failed", op),
		Retryable: true,
		cause:     cause,
	}
}

// NewInconsistencyError describes a queue message that cannot be reconciled with
// its record. It is logged by the scheduler, never returned to callers.
func NewInconsistencyError(reason string, details map[string]any) *Error {
	return &Error{
		Code:    ErrCodeInconsistency,
		Message: reason,
		Details: details,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsNotFound(err error) bool   { return CodeOf(err) == ErrCodeNotFound }
func IsConflict(err error) bool   { return CodeOf(err) == ErrCodeConflict }
func IsDuplicate(err error) bool  { return CodeOf(err) == ErrCodeDuplicate }
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidationError }
func IsTransient(err error) bool  { return CodeOf(err) == ErrCodeTransient }
