/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Domain packages wrap these kinds with their own sentinels so callers can
  match either the precise failure or its category:

    var ErrAlreadySigned = fmt.Errorf("%w: role has already signed", generic.ErrConflict)

    errors.Is(err, contract.ErrAlreadySigned) // precise
    errors.Is(err, generic.ErrConflict)       // category

ERROR CATEGORIES:
  1. NotFound           - missing contract/booking/installment/transfer/reward
  2. Validation         - bad input for the contract kind, out-of-range values
  3. Authorization      - wrong signer, non-owner, self-approval
  4. Conflict           - duplicates, lost compare-and-set, wrong state
  5. InvariantViolation - corrupted state (e.g. ledger sequence gap); fatal

PROPAGATION:
  Errors are returned to the caller. The engine never retries and never logs
  an error instead of returning it.

SEE ALSO:
  - store.go: Repositories return ErrNotFound / ErrConcurrentModification
  - api/handlers.go: maps kinds to HTTP status codes
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
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrAuthorization      = errors.New("not authorized")
	ErrConflict           = errors.New("conflict")
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConcurrentModification is returned when optimistic locking detects
	// that another writer committed first. Callers may reload and retry.
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification detected", ErrConflict)

	// ErrAlreadyExists is returned when inserting a document whose id is taken.
	ErrAlreadyExists = fmt.Errorf("%w: document already exists", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error attaches the entity involved to an error kind.
type Error struct {
	Kind   error
	Entity string
	ID     string
	Msg    string
}

func (e *Error) Error() string {
	switch {
	case e.ID != "" && e.Msg != "":
		return fmt.Sprintf("%s %s: %s: %v", e.Entity, e.ID, e.Msg, e.Kind)
	case e.ID != "":
		return fmt.Sprintf("%s %s: %v", e.Entity, e.ID, e.Kind)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Entity, e.Msg, e.Kind)
	default:
		return fmt.Sprintf("%s: %v", e.Entity, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Kind }

// NotFound builds a NotFound error for an entity id.
func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

// Invalid builds a Validation error.
func Invalid(entity, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden builds an Authorization error.
func Forbidden(entity, id, format string, args ...any) error {
	return &Error{Kind: ErrAuthorization, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a Conflict error.
func Conflictf(entity, id, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// Invariant builds a fatal InvariantViolation error.
func Invariant(entity, id, format string, args ...any) error {
	return &Error{Kind: ErrInvariantViolation, Entity: entity, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool      { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsAuthorization(err error) bool { return errors.Is(err, ErrAuthorization) }

// Kind returns the taxonomy sentinel an error belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrValidation, ErrAuthorization, ErrConflict, ErrInvariantViolation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
