package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestNextState(t *testing.T) {
	cases := []struct {
		name   string
		total  int64
		offset int64
		want   InvoiceStatus
	}{
		{"no offset", 100000, 0, StatusPending},
		{"partial", 100000, 60000, StatusPartial},
		{"one unit short", 100000, 99999, StatusPartial},
		{"exact", 100000, 100000, StatusPaid},
		{"over", 100000, 100001, StatusPaid},
		{"zero total", 0, 0, StatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NextState(d(tc.total), d(tc.offset)))
		})
	}
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.Equal(t, 0, DaysOverdue(due, due))
	require.Equal(t, 0, DaysOverdue(due, due.AddDate(0, 0, -5)))
	require.Equal(t, 1, DaysOverdue(due, due.AddDate(0, 0, 1)))
	require.Equal(t, 30, DaysOverdue(due, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 31, DaysOverdue(due, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 91, DaysOverdue(due, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDisplayState(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	after := due.AddDate(0, 0, 10)
	before := due.AddDate(0, 0, -10)

	require.Equal(t, StatusOverdue, DisplayState(StatusPending, d(100000), due, after))
	require.Equal(t, StatusOverdue, DisplayState(StatusPartial, d(40000), due, after))
	require.Equal(t, StatusPending, DisplayState(StatusPending, d(100000), due, before))
	require.Equal(t, StatusPending, DisplayState(StatusPending, d(100000), due, due))

	// Terminal and settled states never degrade.
	require.Equal(t, StatusPaid, DisplayState(StatusPaid, d(0), due, after))
	require.Equal(t, StatusAnnulled, DisplayState(StatusAnnulled, d(100000), due, after))
}
