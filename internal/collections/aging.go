package collections

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vesta-hoa/vesta/internal/billing"
)

// Bucket labels a days-overdue range.
type Bucket string

const (
	BucketCurrent Bucket = "CURRENT"
	Bucket30      Bucket = "DAYS_1_30"
	Bucket60      Bucket = "DAYS_31_60"
	Bucket90      Bucket = "DAYS_61_90"
	BucketOver90  Bucket = "DAYS_OVER_90"
)

// BucketFor assigns a days-overdue count to its bucket, closed ranges,
// first match wins.
func BucketFor(daysOverdue int) Bucket {
	switch {
	case daysOverdue == 0:
		return BucketCurrent
	case daysOverdue <= 30:
		return Bucket30
	case daysOverdue <= 60:
		return Bucket60
	case daysOverdue <= 90:
		return Bucket90
	default:
		return BucketOver90
	}
}

// OpenInvoice is one open invoice with its settlement sum, as read from the
// store for classification.
type OpenInvoice struct {
	InvoiceID int64
	UnitID    int64
	Number    string
	IssueDate time.Time
	DueDate   time.Time
	Total     decimal.Decimal
	Offset    decimal.Decimal
	Status    billing.InvoiceStatus
}

// Balance is the outstanding amount.
func (o OpenInvoice) Balance() decimal.Decimal {
	return o.Total.Sub(o.Offset)
}

// AgedInvoice is the classifier output for one invoice.
type AgedInvoice struct {
	Invoice     OpenInvoice
	DaysOverdue int
	Bucket      Bucket
	Balance     decimal.Decimal
}

// BucketTotals sums balances per bucket.
type BucketTotals struct {
	Current decimal.Decimal
	Days30  decimal.Decimal
	Days60  decimal.Decimal
	Days90  decimal.Decimal
	Over90  decimal.Decimal
}

func (t *BucketTotals) add(bucket Bucket, amount decimal.Decimal) {
	switch bucket {
	case BucketCurrent:
		t.Current = t.Current.Add(amount)
	case Bucket30:
		t.Days30 = t.Days30.Add(amount)
	case Bucket60:
		t.Days60 = t.Days60.Add(amount)
	case Bucket90:
		t.Days90 = t.Days90.Add(amount)
	case BucketOver90:
		t.Over90 = t.Over90.Add(amount)
	}
}

// Outstanding is the grand total across buckets.
func (t BucketTotals) Outstanding() decimal.Decimal {
	return t.Current.Add(t.Days30).Add(t.Days60).Add(t.Days90).Add(t.Over90)
}

// UnitAging aggregates bucket totals for one unit.
type UnitAging struct {
	UnitID      int64
	Totals      BucketTotals
	Outstanding decimal.Decimal
}

// Classify computes days-overdue and buckets for open invoices against one
// shared asOf instant, so rows evaluated in the same call can never straddle
// a day boundary. Invoices that are settled, annulled or fully offset are
// skipped.
func Classify(invoices []OpenInvoice, asOf time.Time) []AgedInvoice {
	aged := make([]AgedInvoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Status != billing.StatusPending && inv.Status != billing.StatusPartial {
			continue
		}
		balance := inv.Balance()
		if !balance.IsPositive() {
			continue
		}
		days := billing.DaysOverdue(inv.DueDate, asOf)
		aged = append(aged, AgedInvoice{
			Invoice:     inv,
			DaysOverdue: days,
			Bucket:      BucketFor(days),
			Balance:     balance,
		})
	}
	return aged
}

// AggregateByUnit folds classified invoices into per-unit bucket totals,
// ordered by unit id.
func AggregateByUnit(aged []AgedInvoice) []UnitAging {
	byUnit := make(map[int64]*UnitAging)
	for _, a := range aged {
		ua, ok := byUnit[a.Invoice.UnitID]
		if !ok {
			ua = &UnitAging{UnitID: a.Invoice.UnitID}
			byUnit[a.Invoice.UnitID] = ua
		}
		ua.Totals.add(a.Bucket, a.Balance)
	}
	units := make([]UnitAging, 0, len(byUnit))
	for _, ua := range byUnit {
		ua.Outstanding = ua.Totals.Outstanding()
		units = append(units, *ua)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitID < units[j].UnitID })
	return units
}

// GrandTotals folds classified invoices into complex-wide bucket totals.
func GrandTotals(aged []AgedInvoice) BucketTotals {
	var totals BucketTotals
	for _, a := range aged {
		totals.add(a.Bucket, a.Balance)
	}
	return totals
}

// Debtor is one entry of the top-debtor ranking.
type Debtor struct {
	UnitID      int64
	UnitLabel   string
	OwnerName   string
	Outstanding decimal.Decimal
}

// RankDebtors orders units by outstanding balance descending, ties broken by
// unit id ascending, truncated to limit.
func RankDebtors(units []UnitAging, limit int) []Debtor {
	ranked := make([]Debtor, 0, len(units))
	for _, ua := range units {
		if !ua.Outstanding.IsPositive() {
			continue
		}
		ranked = append(ranked, Debtor{UnitID: ua.UnitID, Outstanding: ua.Outstanding})
	}
	sort.Slice(ranked, func(i, j int) bool {
		cmp := ranked[i].Outstanding.Cmp(ranked[j].Outstanding)
		if cmp != 0 {
			return cmp > 0
		}
		return ranked[i].UnitID < ranked[j].UnitID
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
