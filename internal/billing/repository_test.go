package billing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMapPgError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrTxConflict},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, ErrTxConflict},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, ErrTxConflict},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "invoices_number_key"}, ErrDuplicateNumber},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, mapPgError(tc.err), tc.want)
			// Wrapped by the tx helper the mapping still applies.
			wrapped := fmt.Errorf("platform/db: commit tx: %w", tc.err)
			require.ErrorIs(t, mapPgError(wrapped), tc.want)
		})
	}
}

func TestMapPgErrorPassesThroughOtherErrors(t *testing.T) {
	unknown := &pgconn.PgError{Code: "42P01"}
	require.Equal(t, error(unknown), mapPgError(unknown))

	plain := errors.New("connection reset")
	require.Equal(t, plain, mapPgError(plain))
	require.Nil(t, mapPgError(nil))
}
