// Package apperrors provides structured application errors classified along
// the infrastructure and controller axes.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	// Infrastructure faults.
	ErrWrite               = errors.New("artifact write failed")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrValidationTimeout   = errors.New("validation timed out")
	ErrPlatformUnavailable = errors.New("platform unavailable")
	ErrUnknownStatus       = errors.New("unknown run status")

	// Controller faults.
	ErrGeneration       = errors.New("generation failed")
	ErrDuplicateTrigger = errors.New("duplicate trigger")
	ErrCeilingExceeded  = errors.New("ceiling exceeded")
	ErrAborted          = errors.New("session aborted")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "dag_id")
	Resource string // For not found/conflict (e.g., "dagRun")
	Op       string // Operation that failed (e.g., "airflow.trigger")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return Wrap(ErrInternal, op, cause)
}

// Wrap attaches an operation and cause to a sentinel.
func Wrap(sentinel error, op string, cause error) error {
	msg := fmt.Sprintf("%s: %v", op, sentinel)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v: %v", op, sentinel, cause)
	}
	return &Error{
		Sentinel: sentinel,
		Message:  msg,
		Op:       op,
		Cause:    cause,
	}
}

// IsTransient reports whether err is an infrastructure fault worth retrying
// with backoff. Write failures are infrastructure faults but never transient.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrWrite):
		return false
	case errors.Is(err, ErrRegistryUnavailable),
		errors.Is(err, ErrValidationTimeout),
		errors.Is(err, ErrPlatformUnavailable),
		errors.Is(err, ErrUnknownStatus):
		return true
	default:
		return false
	}
}

// Kind returns a short label for the classification of err, used in logs
// and metric attributes.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.label
		}
	}
	if err == nil {
		return "none"
	}
	return "unknown"
}

var kinds = []struct {
	sentinel error
	label    string
}{
	{ErrWrite, "write"},
	{ErrRegistryUnavailable, "registry_unavailable"},
	{ErrValidationTimeout, "validation_timeout"},
	{ErrPlatformUnavailable, "platform_unavailable"},
	{ErrUnknownStatus, "unknown_status"},
	{ErrGeneration, "generation"},
	{ErrDuplicateTrigger, "duplicate_trigger"},
	{ErrCeilingExceeded, "ceiling_exceeded"},
	{ErrAborted, "aborted"},
	{ErrValidation, "validation"},
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
	{ErrInternal, "internal"},
}
