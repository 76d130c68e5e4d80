package collections

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsOfParam(t *testing.T) {
	h := &Handler{now: func() time.Time {
		return time.Date(2024, 6, 1, 9, 41, 17, 0, time.UTC)
	}}

	// Omitted as_of resolves to the start of the current UTC day so the
	// request shares the cache entry built by the overnight warmup.
	req := httptest.NewRequest("GET", "/complexes/10/aging", nil)
	asOf, err := h.asOfParam(req)
	require.NoError(t, err)
	require.True(t, asOf.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	req = httptest.NewRequest("GET", "/complexes/10/aging?as_of=2024-05-15", nil)
	asOf, err = h.asOfParam(req)
	require.NoError(t, err)
	require.True(t, asOf.Equal(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)))

	req = httptest.NewRequest("GET", "/complexes/10/aging?as_of=15-05-2024", nil)
	_, err = h.asOfParam(req)
	require.Error(t, err)
}
