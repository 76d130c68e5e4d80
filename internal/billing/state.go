package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// NextState derives the settlement state from the invoice total and the sum
// of valid offsetting movements. Every write path goes through this single
// function; state is never adjusted incrementally.
func NextState(total, offset decimal.Decimal) InvoiceStatus {
	switch {
	case offset.GreaterThanOrEqual(total):
		return StatusPaid
	case offset.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// DaysOverdue returns whole days past due at asOf, never negative.
func DaysOverdue(dueDate, asOf time.Time) int {
	days := int(asOf.Sub(dueDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// DisplayState labels an open past-due invoice as OVERDUE for presentation.
// The persisted state is untouched; the label depends only on the caller's
// single asOf instant.
func DisplayState(status InvoiceStatus, balance decimal.Decimal, dueDate, asOf time.Time) InvoiceStatus {
	if (status == StatusPending || status == StatusPartial) &&
		balance.IsPositive() && DaysOverdue(dueDate, asOf) > 0 {
		return StatusOverdue
	}
	return status
}
