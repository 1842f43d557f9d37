package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors classify every rejection the trading core can produce.
// Callers branch with errors.Is; the wrapped RejectError carries the reason.
var (
	// ErrValidation is returned for malformed or out-of-range parameters. Rejected before any state mutation.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds is returned when available balance is short of the required reservation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRiskRejected is returned when an admission-control check fails.
	ErrRiskRejected = errors.New("risk check rejected")

	// ErrNotFound is returned when the target order does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the target order is already in a terminal state.
	ErrConflict = errors.New("conflict")

	// ErrCircuitBreaker is returned while a symbol's volatility halt is engaged.
	ErrCircuitBreaker = errors.New("circuit breaker engaged")

	// ErrNoLiquidity is returned for market orders when the opposing book side is empty.
	ErrNoLiquidity = errors.New("no liquidity")

	// ErrInternal is returned when matching fails unexpectedly. No partial fill is recorded.
	ErrInternal = errors.New("internal error")
)

// RejectError wraps a sentinel with the specific rejection reason.
type RejectError struct {
	Kind   error
	Reason string
}

func (e *RejectError) Error() string {
	return e.Kind.Error() + ": " + e.Reason
}

func (e *RejectError) Unwrap() error {
	return e.Kind
}

// Reject builds a RejectError for a sentinel with a formatted reason.
func Reject(kind error, format string, args ...any) *RejectError {
	return &RejectError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Reason extracts the rejection reason, or the full error text for plain errors.
func Reason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
