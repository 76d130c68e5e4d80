package collections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vesta-hoa/vesta/internal/billing"
	"github.com/vesta-hoa/vesta/internal/directory"
	"github.com/vesta-hoa/vesta/internal/shared"
)

// DefaultDebtorLimit caps the top-debtor ranking when the caller does not ask
// for a specific count.
const DefaultDebtorLimit = 10

// ReadStore is the reporting slice of the billing tables.
type ReadStore interface {
	OpenInvoicesByComplex(ctx context.Context, complexID int64) ([]OpenInvoice, error)
	StatementInvoices(ctx context.Context, unitID int64) ([]StatementLine, error)
	StatementMovements(ctx context.Context, unitID int64) (map[int64][]MovementLine, error)
	CollectionTotalsByMonth(ctx context.Context, complexID int64, from, to time.Time) ([]PeriodTotal, error)
}

// DirectoryReader resolves unit and complex display data.
type DirectoryReader interface {
	GetUnit(ctx context.Context, id int64) (*directory.Unit, error)
	GetComplex(ctx context.Context, id int64) (*directory.Complex, error)
	ListUnits(ctx context.Context, complexID int64) ([]directory.Unit, error)
}

// Service assembles collection reports. Aging and ranking reports are cached
// under a version that every billing write bumps; concurrent cache misses for
// the same key collapse into one database pass.
type Service struct {
	store ReadStore
	dir   DirectoryReader
	cache *Cache
	group singleflight.Group
}

// NewService wires the read store, the directory and the cache.
func NewService(store ReadStore, dir DirectoryReader, cache *Cache) *Service {
	return &Service{store: store, dir: dir, cache: cache}
}

// dayStart normalises an instant to midnight UTC. Bucket membership cannot
// change within a day, so cached aging reports are keyed and computed per
// day: a report warmed overnight serves every read until the next midnight
// or the next write, whichever comes first.
func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func dayToken(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Aging classifies every open invoice of a complex into overdue buckets
// against a single asOf instant.
func (s *Service) Aging(ctx context.Context, complexID int64, asOf time.Time) (*AgingReport, error) {
	asOf = dayStart(asOf)
	if _, err := s.dir.GetComplex(ctx, complexID); err != nil {
		return nil, mapDirectoryErr(err)
	}
	key, err := s.cache.BuildKey(ctx, "collections", "aging", strconv.FormatInt(complexID, 10), dayToken(asOf))
	if err != nil {
		return nil, err
	}
	var report AgingReport
	err = s.fetch(ctx, key, &report, func(ctx context.Context) (interface{}, error) {
		return s.buildAging(ctx, complexID, asOf)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Service) buildAging(ctx context.Context, complexID int64, asOf time.Time) (*AgingReport, error) {
	open, err := s.store.OpenInvoicesByComplex(ctx, complexID)
	if err != nil {
		return nil, err
	}
	aged := Classify(open, asOf)
	units := AggregateByUnit(aged)
	totals := GrandTotals(aged)
	return &AgingReport{
		ComplexID:   complexID,
		AsOf:        asOf,
		Units:       units,
		Totals:      totals,
		Outstanding: totals.Outstanding(),
	}, nil
}

// TopDebtors ranks the units of a complex by outstanding balance descending,
// ties broken by unit id ascending, truncated to limit.
func (s *Service) TopDebtors(ctx context.Context, complexID int64, limit int, asOf time.Time) (*TopDebtors, error) {
	if limit <= 0 {
		limit = DefaultDebtorLimit
	}
	asOf = dayStart(asOf)
	if _, err := s.dir.GetComplex(ctx, complexID); err != nil {
		return nil, mapDirectoryErr(err)
	}
	key, err := s.cache.BuildKey(ctx, "collections", "debtors", strconv.FormatInt(complexID, 10), strconv.Itoa(limit), dayToken(asOf))
	if err != nil {
		return nil, err
	}
	var report TopDebtors
	err = s.fetch(ctx, key, &report, func(ctx context.Context) (interface{}, error) {
		return s.buildTopDebtors(ctx, complexID, limit, asOf)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Service) buildTopDebtors(ctx context.Context, complexID int64, limit int, asOf time.Time) (*TopDebtors, error) {
	open, err := s.store.OpenInvoicesByComplex(ctx, complexID)
	if err != nil {
		return nil, err
	}
	units := AggregateByUnit(Classify(open, asOf))
	ranked := RankDebtors(units, limit)

	dirUnits, err := s.dir.ListUnits(ctx, complexID)
	if err != nil {
		return nil, err
	}
	labels := make(map[int64]directory.Unit, len(dirUnits))
	for _, u := range dirUnits {
		labels[u.ID] = u
	}
	for i := range ranked {
		if u, ok := labels[ranked[i].UnitID]; ok {
			ranked[i].UnitLabel = u.Label
			ranked[i].OwnerName = u.OwnerName
		}
	}
	return &TopDebtors{ComplexID: complexID, AsOf: asOf, Limit: limit, Debtors: ranked}, nil
}

// UnitStatement returns the full account statement of one unit: every invoice
// with its movement history and derived figures. Statements are never cached,
// a statement read always reflects the current ledger.
func (s *Service) UnitStatement(ctx context.Context, unitID int64, asOf time.Time) (*UnitStatement, error) {
	unit, err := s.dir.GetUnit(ctx, unitID)
	if err != nil {
		return nil, mapDirectoryErr(err)
	}
	lines, err := s.store.StatementInvoices(ctx, unitID)
	if err != nil {
		return nil, err
	}
	movements, err := s.store.StatementMovements(ctx, unitID)
	if err != nil {
		return nil, err
	}
	stmt := &UnitStatement{
		UnitID:    unit.ID,
		UnitLabel: unit.Label,
		OwnerName: unit.OwnerName,
		ComplexID: unit.ComplexID,
		AsOf:      asOf,
	}
	for i := range lines {
		lines[i].Movements = movements[lines[i].InvoiceID]
		if lines[i].Status == billing.StatusPending || lines[i].Status == billing.StatusPartial {
			stmt.Outstanding = stmt.Outstanding.Add(lines[i].Balance)
			lines[i].DaysOverdue = billing.DaysOverdue(lines[i].DueDate, asOf)
		}
		lines[i].Status = billing.DisplayState(lines[i].Status, lines[i].Balance, lines[i].DueDate, asOf)
	}
	stmt.Lines = lines
	stmt.OutstandingDisplay = shared.FormatMoney(stmt.Outstanding)
	return stmt, nil
}

// Totals sums collected amounts per calendar month for a complex in [from, to).
func (s *Service) Totals(ctx context.Context, complexID int64, from, to time.Time) (*CollectionTotals, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty range", billing.ErrValidation)
	}
	if _, err := s.dir.GetComplex(ctx, complexID); err != nil {
		return nil, mapDirectoryErr(err)
	}
	key, err := s.cache.BuildKey(ctx, "collections", "totals", strconv.FormatInt(complexID, 10),
		from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	var report CollectionTotals
	err = s.fetch(ctx, key, &report, func(ctx context.Context) (interface{}, error) {
		periods, err := s.store.CollectionTotalsByMonth(ctx, complexID, from, to)
		if err != nil {
			return nil, err
		}
		return &CollectionTotals{ComplexID: complexID, From: from, To: to, Periods: periods}, nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// fetch collapses concurrent misses for one key into a single loader run. The
// flight result is raw JSON so every waiter decodes into its own destination.
func (s *Service) fetch(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		var payload json.RawMessage
		if err := s.cache.FetchJSON(ctx, key, &payload, loader); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.(json.RawMessage), dest)
}

func mapDirectoryErr(err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return shared.ErrNotFound
	}
	return err
}
