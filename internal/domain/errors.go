package domain

import "fmt"

// ValidationError reports bad input: missing entity, unrecognized enum,
// past-dated schedule. It is never retried and always surfaced to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a duplicate distribution or an overlapping schedule.
// It carries enough detail for the caller to decide on a forced override.
type ConflictError struct {
	Resource      string
	ConflictingID string
	Reason        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict with %s: %s", e.Resource, e.ConflictingID, e.Reason)
}

// ExecutionError wraps a collaborator failure. It is the only retryable
// category; retries are governed by the job queue's backoff or by an
// explicit operator action, never by the failing component itself.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
