package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "not_found", Message: "Job 'abc' not found."}
	got := err.Error()
	want := "[not_found] Job 'abc' not found."
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("bad input", map[string]any{"field": "job_type"})
	if err.Code != ErrCodeValidationError {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeValidationError)
	}
	if err.Retryable {
		t.Error("expected Retryable = false")
	}
	if err.Details["field"] != "job_type" {
		t.Errorf("Details[field] = %v, want %q", err.Details["field"], "job_type")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Job", "123")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeNotFound)
	}
	if err.Details["resource_type"] != "Job" {
		t.Errorf("Details[resource_type] = %v, want %q", err.Details["resource_type"], "Job")
	}
	if err.Details["resource_id"] != "123" {
		t.Errorf("Details[resource_id] = %v, want %q", err.Details["resource_id"], "123")
	}
}

func TestNewTransientError_WrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransientError("kv update", cause)
	if !err.Retryable {
		t.Error("expected Retryable = true")
	}
	if !errors.Is(err, cause) {
		t.Error("transient error should unwrap to its cause")
	}
	want := "[transient] kv update failed: connection reset"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCodeHelpers_SeeThroughWrapping(t *testing.T) {
	tests := []struct {
		err  error
		pred func(error) bool
		name string
	}{
		{fmt.Errorf("retrieve: %w", NewNotFoundError("Job", "a")), IsNotFound, "not found"},
		{fmt.Errorf("replace: %w", NewConflictError("stale etag", nil)), IsConflict, "conflict"},
		{fmt.Errorf("insert: %w", NewDuplicateError("Job", "a")), IsDuplicate, "duplicate"},
		{fmt.Errorf("schedule: %w", NewValidationError("bad", nil)), IsValidation, "validation"},
		{fmt.Errorf("enqueue: %w", NewTransientError("publish", errors.New("x"))), IsTransient, "transient"},
	}
	for _, tt := range tests {
		if !tt.pred(tt.err) {
			t.Errorf("%s: predicate = false for %v", tt.name, tt.err)
		}
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound(plain error) = true, want false")
	}
	if CodeOf(nil) != "" {
		t.Error("CodeOf(nil) should be empty")
	}
}
