// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation = errors.New("validation error")
	ErrInvalidID  = errors.New("invalid ID")

	// State errors
	ErrStateTransition = errors.New("invalid state transition")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Generation errors. Both are recovered inside the planner by falling
	// back to the local scheduler.
	ErrAIGeneration      = errors.New("ai generation failed")
	ErrMalformedResponse = errors.New("malformed ai response")

	// ErrSchedulingInvariant means the local scheduler produced an unusable
	// plan. It indicates a programming error.
	ErrSchedulingInvariant = errors.New("scheduling invariant violated")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "plan", "progression", "mastery"
	Op      string // Operation that failed, e.g., "Schedule", "Save"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewValidationError builds a ValidationError for the given domain operation.
func NewValidationError(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// Plan domain errors
var (
	ErrPlanNotFound       = NewDomainError("plan", "Find", ErrNotFound, "study plan not found")
	ErrSessionNotFound    = NewDomainError("plan", "FindSession", ErrNotFound, "session not found")
	ErrInvalidPeriod      = NewDomainError("plan", "Validate", ErrValidation, "period must be one of day, week, month, semester")
	ErrInvalidSessionSpan = NewDomainError("plan", "Validate", ErrValidation, "session end must be after start")
	ErrEmptySchedule      = NewDomainError("plan", "Schedule", ErrSchedulingInvariant, "scheduler produced no sessions")
)

// Progression domain errors
var (
	ErrProgressionNotFound = NewDomainError("progression", "Find", ErrNotFound, "progression state not found")
	ErrStaleProgression    = NewDomainError("progression", "Save", ErrConcurrentModification, "progression state was modified concurrently")
	ErrStaleMastery        = NewDomainError("mastery", "Save", ErrConcurrentModification, "mastery set was modified concurrently")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrStateTransition)
}

// IsConcurrency checks if a write lost an optimistic-lock race.
func IsConcurrency(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsRecoverableAI reports whether err should send the planner to its local fallback.
func IsRecoverableAI(err error) bool {
	return errors.Is(err, ErrAIGeneration) ||
		errors.Is(err, ErrMalformedResponse) ||
		IsExternalService(err)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
