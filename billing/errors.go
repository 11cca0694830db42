/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All fatal billing conditions in one place. This engine moves money:
  every ambiguity halts the run instead of guessing, so these errors are
  never retried or swallowed - the CLI layer turns them into a
  process-ending failure.

ERROR CATEGORIES:
  1. Consistency violations - rate drift, duplicate in-progress billing,
     ambiguous customer rate, external interference during submit
  2. Configuration errors - missing unit, unknown unit/rounding value,
     unparseable settings

SEE ALSO:
  - kimai: schema, uniqueness and collaborator errors
  - export: template configuration errors
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRunInProgress is returned when an invoice run would start while a
	// previous run for the same customer has not been cancelled or submitted.
	ErrRunInProgress = errors.New("invoice run already in progress")

	// ErrAmbiguousRate is returned when a customer has zero or more than
	// one rate on file; rate selection would be a guess.
	ErrAmbiguousRate = errors.New("customer rate is ambiguous")

	// ErrRateDrift is returned when Kimai's stored amount for an entry does
	// not match rate x duration; billing on stale assumptions is refused.
	ErrRateDrift = errors.New("stored rate does not match resolved rate")

	// ErrUnitRequired is returned when rate resolution needs a billing unit
	// and the customer has none configured.
	ErrUnitRequired = errors.New("invoice unit not configured")

	// ErrBadSettings is returned for an unparseable or out-of-range value
	// in a customer's embedded billing settings.
	ErrBadSettings = errors.New("invalid billing settings")

	// ErrAlreadyExported is returned when submit finds an in-progress entry
	// that something else already marked exported.
	ErrAlreadyExported = errors.New("time entry already exported")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the offending identifiers
// =============================================================================

// InProgressEntryError reports an entry that still carries the in-progress
// tag when a new invoice run touches it.
type InProgressEntryError struct {
	EntryID    int
	CustomerID int
}

func (e *InProgressEntryError) Error() string {
	return fmt.Sprintf("time entry %d (customer %d) is part of an unfinished invoice run; cancel or submit it first",
		e.EntryID, e.CustomerID)
}

func (e *InProgressEntryError) Unwrap() error { return ErrRunInProgress }

// AmbiguousRateError reports how many rates the customer has on file.
type AmbiguousRateError struct {
	CustomerID int
	Count      int
}

func (e *AmbiguousRateError) Error() string {
	return fmt.Sprintf("customer %d has %d rates on file, exactly one is required", e.CustomerID, e.Count)
}

func (e *AmbiguousRateError) Unwrap() error { return ErrAmbiguousRate }

// RateDriftError reports the stored versus resolved amounts for an entry.
type RateDriftError struct {
	EntryID  int
	Stored   decimal.Decimal
	Resolved decimal.Decimal
}

func (e *RateDriftError) Error() string {
	return fmt.Sprintf("time entry %d: stored amount %s differs from resolved %s beyond tolerance",
		e.EntryID, e.Stored, e.Resolved)
}

func (e *RateDriftError) Unwrap() error { return ErrRateDrift }

// AlreadyExportedError reports external interference found during submit.
type AlreadyExportedError struct {
	EntryID int
}

func (e *AlreadyExportedError) Error() string {
	return fmt.Sprintf("time entry %d is marked in-progress but already exported; external interference", e.EntryID)
}

func (e *AlreadyExportedError) Unwrap() error { return ErrAlreadyExported }
