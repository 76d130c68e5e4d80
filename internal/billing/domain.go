package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates invoice settlement states.
type InvoiceStatus string

const (
	StatusPending  InvoiceStatus = "PENDING"
	StatusPartial  InvoiceStatus = "PARTIAL"
	StatusPaid     InvoiceStatus = "PAID"
	StatusAnnulled InvoiceStatus = "ANNULLED"
	// StatusOverdue is a read-time label for open invoices past due.
	// It is never persisted; stored rows only carry the four states above.
	StatusOverdue InvoiceStatus = "OVERDUE"
)

// MovementKind enumerates monetary event kinds against an invoice.
type MovementKind string

const (
	KindPayment    MovementKind = "PAYMENT"
	KindCredit     MovementKind = "CREDIT"
	KindInterest   MovementKind = "INTEREST"
	KindDiscount   MovementKind = "DISCOUNT"
	KindAdjustment MovementKind = "ADJUSTMENT"
)

// Offsetting reports whether the kind reduces the outstanding balance and
// therefore enters the settlement sum. Direction is a property of the kind,
// amounts are always positive.
func (k MovementKind) Offsetting() bool {
	return k == KindPayment || k == KindCredit
}

// Valid reports whether the kind is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case KindPayment, KindCredit, KindInterest, KindDiscount, KindAdjustment:
		return true
	}
	return false
}

// Invoice is one billing obligation for one unit for one period.
type Invoice struct {
	ID          int64
	UnitID      int64
	Number      string
	IssueDate   time.Time
	DueDate     time.Time
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
	Status      InvoiceStatus
	PeriodLabel string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Movement is one monetary event against exactly one invoice. Voided
// movements stay on record for audit and are excluded from every balance.
type Movement struct {
	ID         int64
	InvoiceID  int64
	Kind       MovementKind
	Amount     decimal.Decimal
	MovedAt    time.Time
	Channel    string
	Reference  string
	RecordedBy int64
	Voided     bool
	VoidReason string
	VoidedBy   *int64
	VoidedAt   *time.Time
	CreatedAt  time.Time
}

// IssueInvoiceInput creates an invoice at the issuance-service boundary.
type IssueInvoiceInput struct {
	UnitID      int64
	Number      string
	IssueDate   time.Time
	DueDate     time.Time
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Tax         decimal.Decimal
	PeriodLabel string
	Notes       string
}

// AllocateInput records one movement against one invoice.
type AllocateInput struct {
	InvoiceID      int64
	Kind           MovementKind
	Amount         decimal.Decimal
	MovedAt        time.Time
	Channel        string
	Reference      string
	RecordedBy     int64
	IdempotencyKey string
}

// VoidInput voids a previously recorded movement.
type VoidInput struct {
	MovementID     int64
	Reason         string
	VoidedBy       int64
	IdempotencyKey string
}

// AnnulInput annuls an invoice that has no valid offsetting movements.
type AnnulInput struct {
	InvoiceID  int64
	Reason     string
	AnnulledBy int64
}

// InvoiceWithMovements is the invoice detail view: the invoice, its full
// movement history, and the derived settlement figures.
type InvoiceWithMovements struct {
	Invoice   Invoice
	Movements []Movement
	Offset    decimal.Decimal
	Balance   decimal.Decimal
	Display   InvoiceStatus
}
