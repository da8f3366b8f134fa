package domain

import "fmt"

// ValidationError wraps bad input to a public API (submit_order,
// submit_analysis_task, adjust_tp, ...). Never retried.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation error: " + e.Errors[0]
	}
	return fmt.Sprintf("validation error: %d issues (%s, ...)", len(e.Errors), e.Errors[0])
}

// NewValidationError builds a ValidationError from one or more messages.
func NewValidationError(errs ...string) *ValidationError {
	return &ValidationError{Errors: errs}
}

// DuplicateTaskError is returned when a submission would duplicate an
// existing PENDING/RUNNING queue task.
type DuplicateTaskError struct {
	ExistingTaskID string
	Key            string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task for key %q (existing task %s)", e.Key, e.ExistingTaskID)
}

// NotFoundError is returned for a missing entity (ruleset, expert instance, transaction...).
type NotFoundError struct {
	Kind string
	ID   interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Kind, e.ID)
}

// BrokerTransientError represents a timeout, 5xx, or 429 from a broker. The
// broker adapter retries these with bounded backoff before giving up.
type BrokerTransientError struct {
	Cause error
}

func (e *BrokerTransientError) Error() string { return "broker transient error: " + e.Cause.Error() }
func (e *BrokerTransientError) Unwrap() error { return e.Cause }

// BrokerError represents an outright rejection by the broker.
type BrokerError struct {
	Message string
}

func (e *BrokerError) Error() string { return "broker error: " + e.Message }

// InternalError wraps anything else. Always logged with context; inside a
// worker task it moves the task to FAILED without crashing the process.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string { return "internal error: " + e.Cause.Error() }
func (e *InternalError) Unwrap() error { return e.Cause }
