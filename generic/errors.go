/*
errors.go - Centralized error taxonomy for the clinic engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return (or wrap) these so that the API layer can map
  any failure to a status code with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - Missing or malformed input, operation not attempted
  2. State errors      - Illegal transition, no mutation performed
  3. Store errors      - External record store read/write failures
  4. Session errors    - Timeout or missing identity, always a full wipe

PROPAGATION:
  Validation and state errors are local and recoverable: the caller can
  retry with corrected input. Store and timeout errors are terminal for
  the current operation and must be reported, never swallowed.

USAGE:
  if errors.Is(err, generic.ErrInvalidStateTransition) {
      // appointment already left Scheduled
  }

SEE ALSO:
  - appointment/ledger.go: Returns TransitionError
  - store/sqlite/sqlite.go: Returns StoreError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when required input is missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStateTransition is returned when an operation is not legal
	// from the entity's current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrExternalStore is returned when the record store fails a read or write.
	ErrExternalStore = errors.New("external store failure")

	// ErrTimeout is returned when identity resolution exceeds its deadline.
	ErrTimeout = errors.New("identity resolution timed out")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateRecord is returned when an insert collides with an existing id
	// or unique column.
	ErrDuplicateRecord = errors.New("duplicate record")

	// ErrUnauthenticated is returned when no valid session exists.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownField is returned when a query names a column the collection lacks.
	ErrUnknownField = errors.New("unknown field")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError records an operation attempted from the wrong state.
type TransitionError struct {
	Entity    string // e.g. "appointment"
	ID        string
	From      string // current state observed in the store
	Operation string // e.g. "complete", "cancel"
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %q", e.Operation, e.Entity, e.ID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// StoreError wraps a failure from the record store.
// It unwraps to both ErrExternalStore and the underlying cause.
type StoreError struct {
	Op         string // "insert", "update", "find", "begin", "commit"
	Collection Collection
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrExternalStore, e.Err} }

// WrapStore classifies err as a store failure unless it already carries
// a domain classification.
func WrapStore(op string, coll Collection, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternalStore) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateRecord) || errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidStateTransition) {
		return err
	}
	return &StoreError{Op: op, Collection: coll, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrDuplicateRecord)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the caller may retry the same request unchanged.
// Timeouts are deliberately excluded: they always resolve to a session wipe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExternalStore) && !errors.Is(err, ErrTimeout)
}
