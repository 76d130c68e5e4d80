package billing

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	invoices       map[int64]*Invoice
	movements      map[int64]*Movement
	nextInvoiceID  int64
	nextMovementID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:  make(map[int64]*Invoice),
		movements: make(map[int64]*Movement),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) CreateInvoice(ctx context.Context, input IssueInvoiceInput, total decimal.Decimal) (*Invoice, error) {
	r.nextInvoiceID++
	inv := &Invoice{
		ID:          r.nextInvoiceID,
		UnitID:      input.UnitID,
		Number:      input.Number,
		IssueDate:   input.IssueDate,
		DueDate:     input.DueDate,
		Subtotal:    input.Subtotal,
		Discount:    input.Discount,
		Tax:         input.Tax,
		Total:       total,
		Status:      StatusPending,
		PeriodLabel: input.PeriodLabel,
		Notes:       input.Notes,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (r *memoryRepo) GetMovement(ctx context.Context, id int64) (*Movement, error) {
	m, ok := r.movements[id]
	if !ok {
		return nil, ErrMovementNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, invoiceID int64) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.InvoiceID == invoiceID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) SumValidOffsets(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, m := range r.movements {
		if m.InvoiceID == invoiceID && !m.Voided && m.Kind.Offsetting() {
			sum = sum.Add(m.Amount)
		}
	}
	return sum, nil
}

func (r *memoryRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return r.GetInvoice(ctx, id)
}

func (r *memoryRepo) GetMovementForUpdate(ctx context.Context, id int64) (*Movement, error) {
	return r.GetMovement(ctx, id)
}

func (r *memoryRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	r.nextMovementID++
	m.ID = r.nextMovementID
	m.CreatedAt = time.Now()
	r.movements[m.ID] = &m
	return m.ID, nil
}

func (r *memoryRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	inv, ok := r.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Status = status
	inv.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepo) MarkMovementVoided(ctx context.Context, id int64, reason string, voidedBy int64, at time.Time) error {
	m, ok := r.movements[id]
	if !ok {
		return ErrMovementNotFound
	}
	if m.Voided {
		return ErrAlreadyVoided
	}
	m.Voided = true
	m.VoidReason = reason
	m.VoidedBy = &voidedBy
	m.VoidedAt = &at
	return nil
}

func issueTestInvoice(t *testing.T, svc *Service, unitID, subtotal int64) *Invoice {
	t.Helper()
	inv, err := svc.IssueInvoice(context.Background(), IssueInvoiceInput{
		UnitID:      unitID,
		Number:      "F-" + time.Now().Format("150405.000000000"),
		DueDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Subtotal:    d(subtotal),
		PeriodLabel: "2024-01",
	})
	require.NoError(t, err)
	return inv
}

func TestIssueInvoiceComputesTotal(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)

	inv, err := svc.IssueInvoice(context.Background(), IssueInvoiceInput{
		UnitID:      7,
		Number:      "F-2024-0001",
		DueDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Subtotal:    d(100000),
		Discount:    d(5000),
		Tax:         d(19000),
		PeriodLabel: "2024-01",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, inv.Status)
	require.True(t, inv.Total.Equal(d(114000)), "total = subtotal + tax - discount")
}

func TestIssueInvoiceValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.IssueInvoice(ctx, IssueInvoiceInput{Number: "F-1", DueDate: due, Subtotal: d(100), PeriodLabel: "2024-01"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.IssueInvoice(ctx, IssueInvoiceInput{UnitID: 1, Number: "F-1", DueDate: due, Subtotal: d(100), PeriodLabel: "enero"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.IssueInvoice(ctx, IssueInvoiceInput{UnitID: 1, Number: "F-1", DueDate: due, Subtotal: d(100), Discount: d(500), PeriodLabel: "2024-01"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAllocatePartialThenPaidThenVoid(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	inv := issueTestInvoice(t, svc, 1, 100000)

	_, updated, err := svc.Allocate(ctx, AllocateInput{
		InvoiceID: inv.ID, Kind: KindPayment, Amount: d(60000),
		MovedAt: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), Channel: "transfer", RecordedBy: 9,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, updated.Status)

	offset, _ := repo.SumValidOffsets(ctx, inv.ID)
	require.True(t, inv.Total.Sub(offset).Equal(d(40000)))

	second, updated, err := svc.Allocate(ctx, AllocateInput{
		InvoiceID: inv.ID, Kind: KindPayment, Amount: d(40000),
		MovedAt: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Channel: "transfer", RecordedBy: 9,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, updated.Status)

	// Voiding the second payment reverts to PARTIAL with balance 40000,
	// recomputed from the remaining valid movements.
	voided, updated, err := svc.Void(ctx, VoidInput{MovementID: second.ID, Reason: "wrong receipt", VoidedBy: 9})
	require.NoError(t, err)
	require.True(t, voided.Voided)
	require.Equal(t, StatusPartial, updated.Status)

	offset, _ = repo.SumValidOffsets(ctx, inv.ID)
	require.True(t, inv.Total.Sub(offset).Equal(d(40000)))
}

func TestAllocateRejectsOverpayment(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	inv := issueTestInvoice(t, svc, 1, 100000)
	_, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindPayment, Amount: d(60000), Channel: "cash", RecordedBy: 2})
	require.NoError(t, err)

	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindPayment, Amount: d(60000), Channel: "cash", RecordedBy: 2})
	require.ErrorIs(t, err, ErrExceedsBalance)

	var exceeds *ExceedsBalanceError
	require.ErrorAs(t, err, &exceeds)
	require.True(t, exceeds.Pending.Equal(d(40000)), "error carries the computed pending balance")

	// The failed allocation left the invoice and movement set unchanged.
	movements, _ := repo.ListMovements(ctx, inv.ID)
	require.Len(t, movements, 1)
	current, _ := repo.GetInvoice(ctx, inv.ID)
	require.Equal(t, StatusPartial, current.Status)
}

func TestAllocateRejectsPaidAndAnnulled(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	paid := issueTestInvoice(t, svc, 1, 50000)
	_, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: paid.ID, Kind: KindPayment, Amount: d(50000), Channel: "cash", RecordedBy: 2})
	require.NoError(t, err)
	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: paid.ID, Kind: KindCredit, Amount: d(1), Channel: "cash", RecordedBy: 2})
	require.ErrorIs(t, err, ErrInvalidState)

	annulled := issueTestInvoice(t, svc, 1, 50000)
	_, err = svc.Annul(ctx, AnnulInput{InvoiceID: annulled.ID, Reason: "issued in error", AnnulledBy: 2})
	require.NoError(t, err)
	// An annulled invoice rejects movements of any kind.
	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: annulled.ID, Kind: KindInterest, Amount: d(1), Channel: "cash", RecordedBy: 2})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAllocateNonOffsettingKindLeavesStateAlone(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	inv := issueTestInvoice(t, svc, 1, 100000)

	// Interest is a recorded fact, not part of the settlement sum: no
	// pending-balance cap, no state change.
	_, updated, err := svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindInterest, Amount: d(250000), Channel: "system", RecordedBy: 2})
	require.NoError(t, err)
	require.Equal(t, StatusPending, updated.Status)

	offset, _ := repo.SumValidOffsets(ctx, inv.ID)
	require.True(t, offset.IsZero())
}

func TestAllocateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	_, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: 1, Kind: "TRANSFER", Amount: d(10), Channel: "cash"})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: 1, Kind: KindPayment, Amount: d(0), Channel: "cash"})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: 1, Kind: KindPayment, Amount: d(10)})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: 404, Kind: KindPayment, Amount: d(10), Channel: "cash"})
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestVoidErrors(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, _, err := svc.Void(ctx, VoidInput{MovementID: 404, Reason: "missing", VoidedBy: 1})
	require.ErrorIs(t, err, ErrMovementNotFound)

	inv := issueTestInvoice(t, svc, 1, 100000)
	m, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindPayment, Amount: d(10000), Channel: "cash", RecordedBy: 1})
	require.NoError(t, err)

	_, _, err = svc.Void(ctx, VoidInput{MovementID: m.ID, Reason: "duplicate", VoidedBy: 1})
	require.NoError(t, err)
	_, _, err = svc.Void(ctx, VoidInput{MovementID: m.ID, Reason: "again", VoidedBy: 1})
	require.ErrorIs(t, err, ErrAlreadyVoided)

	_, _, err = svc.Void(ctx, VoidInput{MovementID: m.ID, VoidedBy: 1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestVoidOrderIndependence(t *testing.T) {
	for _, firstSecond := range [][2]int{{0, 1}, {1, 0}} {
		repo := newMemoryRepo()
		svc := NewService(repo, nil, nil, nil)
		ctx := context.Background()

		inv := issueTestInvoice(t, svc, 1, 100000)
		var ids [2]int64
		for i, amount := range []int64{60000, 40000} {
			m, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindPayment, Amount: d(amount), Channel: "cash", RecordedBy: 1})
			require.NoError(t, err)
			ids[i] = m.ID
		}

		_, _, err := svc.Void(ctx, VoidInput{MovementID: ids[firstSecond[0]], Reason: "r", VoidedBy: 1})
		require.NoError(t, err)
		_, updated, err := svc.Void(ctx, VoidInput{MovementID: ids[firstSecond[1]], Reason: "r", VoidedBy: 1})
		require.NoError(t, err)

		require.Equal(t, StatusPending, updated.Status)
		offset, _ := repo.SumValidOffsets(ctx, inv.ID)
		require.True(t, offset.IsZero())
	}
}

func TestAnnulRules(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	// Pending with no payments annuls fine.
	clean := issueTestInvoice(t, svc, 1, 100000)
	annulled, err := svc.Annul(ctx, AnnulInput{InvoiceID: clean.ID, Reason: "issued twice", AnnulledBy: 3})
	require.NoError(t, err)
	require.Equal(t, StatusAnnulled, annulled.Status)

	_, err = svc.Annul(ctx, AnnulInput{InvoiceID: clean.ID, Reason: "again", AnnulledBy: 3})
	require.ErrorIs(t, err, ErrInvalidState)

	// Partial with a recorded payment refuses until the payment is voided.
	partial := issueTestInvoice(t, svc, 1, 100000)
	m, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: partial.ID, Kind: KindPayment, Amount: d(30000), Channel: "cash", RecordedBy: 3})
	require.NoError(t, err)
	_, err = svc.Annul(ctx, AnnulInput{InvoiceID: partial.ID, Reason: "mistake", AnnulledBy: 3})
	require.ErrorIs(t, err, ErrInvalidState)

	_, _, err = svc.Void(ctx, VoidInput{MovementID: m.ID, Reason: "undo", VoidedBy: 3})
	require.NoError(t, err)
	_, err = svc.Annul(ctx, AnnulInput{InvoiceID: partial.ID, Reason: "mistake", AnnulledBy: 3})
	require.NoError(t, err)

	// Paid never annuls.
	paid := issueTestInvoice(t, svc, 1, 100000)
	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: paid.ID, Kind: KindPayment, Amount: d(100000), Channel: "cash", RecordedBy: 3})
	require.NoError(t, err)
	_, err = svc.Annul(ctx, AnnulInput{InvoiceID: paid.ID, Reason: "no", AnnulledBy: 3})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStateAlwaysMatchesRecomputation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	inv := issueTestInvoice(t, svc, 1, 100000)
	var movementIDs []int64
	for _, amount := range []int64{25000, 25000, 50000} {
		m, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindPayment, Amount: d(amount), Channel: "cash", RecordedBy: 1})
		require.NoError(t, err)
		movementIDs = append(movementIDs, m.ID)
	}

	check := func() {
		current, err := repo.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		offset, err := repo.SumValidOffsets(ctx, inv.ID)
		require.NoError(t, err)
		require.Equal(t, NextState(current.Total, offset), current.Status)
		require.True(t, offset.GreaterThanOrEqual(decimal.Zero))
		require.True(t, offset.LessThanOrEqual(current.Total))
	}

	check()
	for _, id := range movementIDs {
		_, _, err := svc.Void(ctx, VoidInput{MovementID: id, Reason: "audit", VoidedBy: 1})
		require.NoError(t, err)
		check()
	}
}

type fakeGuard struct {
	seen    map[string]bool
	deleted []string
}

func (g *fakeGuard) CheckAndInsert(ctx context.Context, key, module string) error {
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return context.DeadlineExceeded // any error will do for the test
	}
	g.seen[key] = true
	return nil
}

func (g *fakeGuard) Delete(ctx context.Context, key string) error {
	g.deleted = append(g.deleted, key)
	delete(g.seen, key)
	return nil
}

func TestAllocateReleasesIdempotencyKeyOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	guard := &fakeGuard{}
	svc := NewService(repo, nil, guard, nil)
	ctx := context.Background()

	inv := issueTestInvoice(t, svc, 1, 100000)

	// Overpayment fails after the key was claimed; the key must be released
	// so a corrected retry can reuse it.
	_, _, err := svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindPayment, Amount: d(200000), Channel: "cash", RecordedBy: 1, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, ErrExceedsBalance)
	require.Contains(t, guard.deleted, "k1")

	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindPayment, Amount: d(100000), Channel: "cash", RecordedBy: 1, IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, _, err = svc.Allocate(ctx, AllocateInput{InvoiceID: inv.ID, Kind: KindCredit, Amount: d(1), Channel: "cash", RecordedBy: 1, IdempotencyKey: "k1"})
	require.Error(t, err)
}
