package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input; it is raised before any external call.
	ErrValidation = errors.New("validation error")
	// ErrDependency marks a failing collaborator (provider, store, message source).
	ErrDependency = errors.New("dependency error")
	// ErrNotFound marks a missing message, summary or owner.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks a system-level mismatch such as the vector dimension.
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Ingestion failure reason codes reported per email id.
const (
	ReasonInvalidID         = "invalid_id"
	ReasonNotFound          = "not_found"
	ReasonFetchFailed       = "fetch_failed"
	ReasonProviderError     = "provider_error"
	ReasonDimensionMismatch = "dimension_mismatch"
	ReasonStoreError        = "store_error"
	ReasonCanceled          = "canceled"
)
