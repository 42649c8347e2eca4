/*
errors.go - Centralized error types for the interest engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these with context via cockroachdb/errors.

ERROR CATEGORIES:
  1. ParseError           - Bad configuration input. User-visible, no state mutated.
  2. SchedulingError      - Timer registration failed for one WakeTime. Operator-visible.
  3. LedgerError          - Payout application failed for one account. Retried next cycle.
  4. ConsistencyViolation - Registry index mismatch. Triggers a full rebuild.

USAGE:
    var perr *generic.ParseError
    if errors.As(err, &perr) {
        reply(perr.Error())
    }

SEE ALSO:
  - bank/fields.go: Produces ParseError
  - schedule/registry.go: Produces SchedulingError and ConsistencyViolation
  - payout/engine.go: Produces LedgerError
*/
package generic

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrParse       = errors.New("invalid input")
	ErrScheduling  = errors.New("scheduling failed")
	ErrLedger      = errors.New("ledger write failed")
	ErrConsistency = errors.New("registry consistency violation")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. For payouts this means the cycle was
	// already paid.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrBankNotFound      = errors.New("bank not found")
	ErrBankExists        = errors.New("bank already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrClockStopped      = errors.New("clock stopped")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ParseError reports configuration input that could not be parsed for a field.
type ParseError struct {
	Field  string
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %s", e.Input, e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// SchedulingError reports that the timer for one WakeTime could not be registered.
type SchedulingError struct {
	WakeTime WakeTime
	Err      error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s: %v", e.WakeTime, e.Err)
}

func (e *SchedulingError) Unwrap() error { return ErrScheduling }

// LedgerError reports that a payout could not be applied to one account.
type LedgerError struct {
	AccountID AccountID
	Err       error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("account %s: %v", e.AccountID, e.Err)
}

func (e *LedgerError) Unwrap() error { return ErrLedger }

// ConsistencyViolation reports a mismatch between the registry's two indexes.
type ConsistencyViolation struct {
	BankID   BankID
	WakeTime WakeTime
	Detail   string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("registry inconsistent for bank %s at %s: %s", e.BankID, e.WakeTime, e.Detail)
}

func (e *ConsistencyViolation) Unwrap() error { return ErrConsistency }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsConflict returns true if the error reports an already existing resource.
func IsConflict(err error) bool {
	return errors.Is(err, ErrBankExists) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBankNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}
