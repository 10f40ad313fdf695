package content

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline. Callers distinguish
// infrastructure problems (ErrWorkerUnavailable) from item failures so a
// misconfigured broker is never reported as "this item failed".
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates an ownership mismatch.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrWorkerUnavailable indicates the job queue backend cannot be
	// reached. Surfaced distinctly from processing failures.
	ErrWorkerUnavailable = errors.New("processing worker unavailable")

	// ErrRetryNotSupported indicates the item's source kind was never
	// asynchronous and cannot be requeued.
	ErrRetryNotSupported = errors.New("retry not supported for this content type")
)

// ValidationError reports missing or invalid caller input. It is returned
// synchronously and never mutates state.
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

// NewValidationError constructs a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExternalServiceError wraps a failure from a transcription, summarization,
// synthesis or storage call. It is caught at the processor boundary and
// converted to status=error, never rethrown past the item.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
