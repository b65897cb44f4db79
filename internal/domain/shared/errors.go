// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
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
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// Configuration errors - raised at load/upsert time, never at resolve time.
	ErrConfiguration = errors.New("invalid configuration")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")

	// Persistence errors
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService = errors.New("external service error")
	ErrSinkDispatch    = errors.New("sink dispatch failed")
	ErrTimeout         = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "experiment", "assignment", "analytics"
	Op      string // Operation that failed, e.g., "Resolve", "Upsert"
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

// Experiment domain errors
var (
	ErrExperimentNotFound  = NewDomainError("experiment", "Get", ErrNotFound, "experiment not found")
	ErrNoVariants          = NewDomainError("experiment", "Validate", ErrConfiguration, "experiment must declare at least one variant")
	ErrDuplicateVariant    = NewDomainError("experiment", "Validate", ErrConfiguration, "variant names must be unique within an experiment")
	ErrNonPositiveWeight   = NewDomainError("experiment", "Validate", ErrConfiguration, "variant weights must be positive")
	ErrInvalidWindow       = NewDomainError("experiment", "Validate", ErrConfiguration, "active window end must be after start")
	ErrEmptyExperimentName = NewDomainError("experiment", "Validate", ErrConfiguration, "experiment name cannot be empty")
)

// Assignment domain errors
var (
	ErrUnknownVariant     = NewDomainError("assignment", "Force", ErrNotFound, "variant is not declared in the experiment definition")
	ErrAssignmentNotFound = NewDomainError("assignment", "Get", ErrNotFound, "no assignment for subject")
	ErrEmptySubjectID     = NewDomainError("assignment", "Validate", ErrInvalidInput, "subject ID cannot be empty")
	ErrStoreUnavailable   = NewDomainError("assignment", "GetOrCreate", ErrPersistenceUnavailable, "assignment store unavailable")
)

// Analytics domain errors
var (
	ErrEventLogAppend = NewDomainError("analytics", "Append", ErrPersistenceUnavailable, "failed to append event to log")
	ErrSinkTimeout    = NewDomainError("analytics", "Push", ErrSinkDispatch, "sink dispatch timed out")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfiguration checks if the error is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsPersistenceUnavailable checks if the error indicates the durable store
// could not be reached. Resolution paths treat this as a signal to fall back
// to an ephemeral draw rather than failing the request.
func IsPersistenceUnavailable(err error) bool {
	return errors.Is(err, ErrPersistenceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
