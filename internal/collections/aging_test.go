package collections

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vesta-hoa/vesta/internal/billing"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func openInvoice(id, unitID int64, due time.Time, total, settled int64) OpenInvoice {
	status := billing.StatusPending
	if settled > 0 {
		status = billing.StatusPartial
	}
	return OpenInvoice{
		InvoiceID: id,
		UnitID:    unitID,
		Number:    "INV-" + time.Now().Format("20060102"),
		IssueDate: due.AddDate(0, 0, -15),
		DueDate:   due,
		Total:     d(total),
		Offset:    d(settled),
		Status:    status,
	}
}

func TestBucketFor(t *testing.T) {
	cases := []struct {
		days int
		want Bucket
	}{
		{0, BucketCurrent},
		{1, Bucket30},
		{30, Bucket30},
		{31, Bucket60},
		{60, Bucket60},
		{61, Bucket90},
		{90, Bucket90},
		{91, BucketOver90},
		{365, BucketOver90},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, BucketFor(tc.days), "days=%d", tc.days)
	}
}

func TestClassifyBucketBoundaries(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	invoices := []OpenInvoice{
		openInvoice(1, 1, asOf.AddDate(0, 0, 5), 100000, 0),   // not yet due
		openInvoice(2, 1, asOf, 100000, 0),                    // due today
		openInvoice(3, 1, asOf.AddDate(0, 0, -30), 100000, 0), // last day of 1-30
		openInvoice(4, 1, asOf.AddDate(0, 0, -31), 100000, 0),
		openInvoice(5, 1, asOf.AddDate(0, 0, -91), 100000, 0),
	}

	aged := Classify(invoices, asOf)
	require.Len(t, aged, 5)
	require.Equal(t, BucketCurrent, aged[0].Bucket)
	require.Equal(t, BucketCurrent, aged[1].Bucket)
	require.Equal(t, Bucket30, aged[2].Bucket)
	require.Equal(t, 30, aged[2].DaysOverdue)
	require.Equal(t, Bucket60, aged[3].Bucket)
	require.Equal(t, BucketOver90, aged[4].Bucket)
}

func TestClassifySkipsSettledAndAnnulled(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	due := asOf.AddDate(0, 0, -10)

	paid := openInvoice(1, 1, due, 100000, 100000)
	paid.Status = billing.StatusPaid
	annulled := openInvoice(2, 1, due, 100000, 0)
	annulled.Status = billing.StatusAnnulled
	partial := openInvoice(3, 1, due, 100000, 60000)

	aged := Classify([]OpenInvoice{paid, annulled, partial}, asOf)
	require.Len(t, aged, 1)
	require.Equal(t, int64(3), aged[0].Invoice.InvoiceID)
	require.True(t, aged[0].Balance.Equal(d(40000)))
}

func TestAggregateByUnit(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	invoices := []OpenInvoice{
		openInvoice(1, 7, asOf.AddDate(0, 0, -10), 100000, 40000), // unit 7, bucket 1-30, 60000
		openInvoice(2, 7, asOf.AddDate(0, 0, -45), 50000, 0),      // unit 7, bucket 31-60
		openInvoice(3, 2, asOf.AddDate(0, 0, -10), 30000, 0),      // unit 2, bucket 1-30
	}

	units := AggregateByUnit(Classify(invoices, asOf))
	require.Len(t, units, 2)
	require.Equal(t, int64(2), units[0].UnitID)
	require.Equal(t, int64(7), units[1].UnitID)
	require.True(t, units[1].Totals.Days30.Equal(d(60000)))
	require.True(t, units[1].Totals.Days60.Equal(d(50000)))
	require.True(t, units[1].Outstanding.Equal(d(110000)))

	totals := GrandTotals(Classify(invoices, asOf))
	require.True(t, totals.Outstanding().Equal(d(140000)))
}

func TestRankDebtorsOrderAndTies(t *testing.T) {
	units := []UnitAging{
		{UnitID: 5, Outstanding: d(30000)},
		{UnitID: 1, Outstanding: d(50000)},
		{UnitID: 9, Outstanding: d(50000)},
		{UnitID: 3, Outstanding: d(0)},
		{UnitID: 4, Outstanding: d(70000)},
	}

	ranked := RankDebtors(units, 10)
	require.Len(t, ranked, 4)
	require.Equal(t, int64(4), ranked[0].UnitID)
	// Equal balances fall back to unit id ascending.
	require.Equal(t, int64(1), ranked[1].UnitID)
	require.Equal(t, int64(9), ranked[2].UnitID)
	require.Equal(t, int64(5), ranked[3].UnitID)
}

func TestRankDebtorsTruncates(t *testing.T) {
	units := make([]UnitAging, 0, 15)
	for i := 1; i <= 15; i++ {
		units = append(units, UnitAging{UnitID: int64(i), Outstanding: d(int64(i * 1000))})
	}

	ranked := RankDebtors(units, 10)
	require.Len(t, ranked, 10)
	require.Equal(t, int64(15), ranked[0].UnitID)
	require.Equal(t, int64(6), ranked[9].UnitID)
}
