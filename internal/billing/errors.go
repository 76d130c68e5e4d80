package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvoiceNotFound indicates the referenced invoice does not exist.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
	// ErrMovementNotFound indicates the referenced movement does not exist.
	ErrMovementNotFound = errors.New("billing: movement not found")
	// ErrInvalidState indicates the operation is illegal for the invoice's current state.
	ErrInvalidState = errors.New("billing: operation not allowed in current invoice state")
	// ErrExceedsBalance indicates the amount would overpay the invoice.
	ErrExceedsBalance = errors.New("billing: amount exceeds pending balance")
	// ErrAlreadyVoided indicates a repeat void of the same movement.
	ErrAlreadyVoided = errors.New("billing: movement already voided")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("billing: validation failed")
	// ErrDuplicateNumber indicates the invoice number is already taken.
	ErrDuplicateNumber = errors.New("billing: invoice number already exists")
	// ErrTxConflict indicates lock contention; callers should re-read and retry.
	ErrTxConflict = errors.New("billing: transaction conflict")
)

// ExceedsBalanceError carries the computed pending balance so the caller can
// correct the submitted amount. errors.Is matches it against ErrExceedsBalance.
type ExceedsBalanceError struct {
	Pending decimal.Decimal
}

func (e *ExceedsBalanceError) Error() string {
	return fmt.Sprintf("billing: amount exceeds pending balance of %s", e.Pending.String())
}

func (e *ExceedsBalanceError) Is(target error) bool {
	return target == ErrExceedsBalance
}
