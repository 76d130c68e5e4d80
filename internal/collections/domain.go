// Package collections builds read-side reports over the billing ledger:
// aging classification, unit statements, top-debtor rankings and monthly
// collection totals. It never writes billing data.
package collections

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vesta-hoa/vesta/internal/billing"
)

// AgingReport is the aged-receivables view for one complex at one instant.
type AgingReport struct {
	ComplexID   int64           `json:"complex_id"`
	AsOf        time.Time       `json:"as_of"`
	Units       []UnitAging     `json:"units"`
	Totals      BucketTotals    `json:"totals"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// StatementLine is one invoice on a unit statement with its derived figures.
type StatementLine struct {
	InvoiceID   int64                 `json:"invoice_id"`
	Number      string                `json:"number"`
	PeriodLabel string                `json:"period_label"`
	IssueDate   time.Time             `json:"issue_date"`
	DueDate     time.Time             `json:"due_date"`
	Total       decimal.Decimal       `json:"total"`
	Offset      decimal.Decimal       `json:"offset"`
	Balance     decimal.Decimal       `json:"balance"`
	DaysOverdue int                   `json:"days_overdue"`
	Status      billing.InvoiceStatus `json:"status"`
	Movements   []MovementLine        `json:"movements"`
}

// MovementLine is one movement on a statement. Voided movements are listed
// with their void metadata and excluded from every balance.
type MovementLine struct {
	MovementID int64                `json:"movement_id"`
	Kind       billing.MovementKind `json:"kind"`
	Amount     decimal.Decimal      `json:"amount"`
	MovedAt    time.Time            `json:"moved_at"`
	Channel    string               `json:"channel,omitempty"`
	Reference  string               `json:"reference,omitempty"`
	Voided     bool                 `json:"voided"`
	VoidReason string               `json:"void_reason,omitempty"`
	VoidedAt   *time.Time           `json:"voided_at,omitempty"`
}

// UnitStatement is the full account statement of one unit.
type UnitStatement struct {
	UnitID             int64           `json:"unit_id"`
	UnitLabel          string          `json:"unit_label"`
	OwnerName          string          `json:"owner_name"`
	ComplexID          int64           `json:"complex_id"`
	AsOf               time.Time       `json:"as_of"`
	Lines              []StatementLine `json:"lines"`
	Outstanding        decimal.Decimal `json:"outstanding"`
	OutstandingDisplay string          `json:"outstanding_display"`
}

// TopDebtors is the ranked outstanding-balance report for one complex.
type TopDebtors struct {
	ComplexID int64     `json:"complex_id"`
	AsOf      time.Time `json:"as_of"`
	Limit     int       `json:"limit"`
	Debtors   []Debtor  `json:"debtors"`
}

// PeriodTotal is the amount collected in one calendar month.
type PeriodTotal struct {
	Period    string          `json:"period"`
	Collected decimal.Decimal `json:"collected"`
}

// CollectionTotals groups collected amounts by month for a complex, ordered
// chronologically.
type CollectionTotals struct {
	ComplexID int64         `json:"complex_id"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Periods   []PeriodTotal `json:"periods"`
}
