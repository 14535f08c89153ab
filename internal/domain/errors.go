package domain

import (
	"errors"
	"fmt"
)

// ReasonCode identifies why an operation violated a ledger invariant.
type ReasonCode string

// Invariant violation reason codes.
const (
	ReasonSelfLiquidation         ReasonCode = "SELF_LIQUIDATION"
	ReasonWithdrawExceedsDeposit  ReasonCode = "WITHDRAW_EXCEEDS_DEPOSIT"
	ReasonBorrowExceedsCollateral ReasonCode = "BORROW_EXCEEDS_COLLATERAL"
	ReasonStaleContext            ReasonCode = "STALE_CONTEXT"
)

// InvariantViolation is rejected before any write and surfaced to the caller
// with a specific reason code; it is never partially applied.
type InvariantViolation struct {
	Reason ReasonCode
	Detail string
}

func (e *InvariantViolation) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invariant violation: %s", e.Reason)
	}
	return fmt.Sprintf("invariant violation: %s: %s", e.Reason, e.Detail)
}

// NewInvariantViolation builds an InvariantViolation error.
func NewInvariantViolation(reason ReasonCode, detail string) error {
	return &InvariantViolation{Reason: reason, Detail: detail}
}

// IsInvariantViolation reports whether err is an InvariantViolation and
// returns its reason code.
func IsInvariantViolation(err error) (ReasonCode, bool) {
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		return iv.Reason, true
	}
	return "", false
}

// FailureCategory is the small fixed set of human-readable failure classes
// shown to users instead of raw ledger error strings.
type FailureCategory string

// User-visible failure categories.
const (
	FailureInsufficientCollateral FailureCategory = "insufficient collateral"
	FailurePositionUnhealthy      FailureCategory = "position unhealthy"
	FailureAmountExceedsBalance   FailureCategory = "amount exceeds balance"
	FailureUserCancelled          FailureCategory = "user cancelled"
	FailureUnknown                FailureCategory = "something went wrong"
)

// CategorizeFailure maps a pipeline error to its user-visible category.
func CategorizeFailure(err error) FailureCategory {
	if err == nil {
		return ""
	}
	if reason, ok := IsInvariantViolation(err); ok {
		switch reason {
		case ReasonBorrowExceedsCollateral:
			return FailureInsufficientCollateral
		case ReasonSelfLiquidation:
			return FailurePositionUnhealthy
		case ReasonWithdrawExceedsDeposit:
			return FailureAmountExceedsBalance
		}
	}
	return FailureUnknown
}
