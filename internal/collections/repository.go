package collections

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vesta-hoa/vesta/internal/billing"
)

// Repository reads reporting projections straight from the billing tables.
// The settlement sum is recomputed in SQL on every read with the same filter
// the write side uses: valid offsetting movements only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const openInvoicesByComplexSQL = `
SELECT i.id, i.unit_id, i.number, i.issue_date, i.due_date, i.total, i.status,
       COALESCE(SUM(m.amount) FILTER (WHERE m.voided = FALSE AND m.kind IN ('PAYMENT','CREDIT')), 0) AS settled
FROM invoices i
JOIN units u ON u.id = i.unit_id
LEFT JOIN movements m ON m.invoice_id = i.id
WHERE u.complex_id = $1
  AND i.status IN ('PENDING','PARTIAL')
GROUP BY i.id
ORDER BY i.unit_id, i.due_date, i.id`

// OpenInvoicesByComplex returns every open invoice of a complex with its
// settlement sum.
func (r *Repository) OpenInvoicesByComplex(ctx context.Context, complexID int64) ([]OpenInvoice, error) {
	rows, err := r.pool.Query(ctx, openInvoicesByComplexSQL, complexID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpenInvoice
	for rows.Next() {
		var inv OpenInvoice
		if err := rows.Scan(&inv.InvoiceID, &inv.UnitID, &inv.Number, &inv.IssueDate, &inv.DueDate, &inv.Total, &inv.Status, &inv.Offset); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

const statementInvoicesSQL = `
SELECT i.id, i.unit_id, i.number, i.issue_date, i.due_date, i.total, i.status, i.period_label,
       COALESCE(SUM(m.amount) FILTER (WHERE m.voided = FALSE AND m.kind IN ('PAYMENT','CREDIT')), 0) AS settled
FROM invoices i
LEFT JOIN movements m ON m.invoice_id = i.id
WHERE i.unit_id = $1
GROUP BY i.id
ORDER BY i.issue_date, i.id`

// StatementInvoices returns all invoices of a unit, including settled and
// annulled ones, with their settlement sums.
func (r *Repository) StatementInvoices(ctx context.Context, unitID int64) ([]StatementLine, error) {
	rows, err := r.pool.Query(ctx, statementInvoicesSQL, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []StatementLine
	for rows.Next() {
		var (
			line   StatementLine
			unitID int64
		)
		if err := rows.Scan(&line.InvoiceID, &unitID, &line.Number, &line.IssueDate, &line.DueDate, &line.Total, &line.Status, &line.PeriodLabel, &line.Offset); err != nil {
			return nil, err
		}
		line.Balance = line.Total.Sub(line.Offset)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

const statementMovementsSQL = `
SELECT m.id, m.invoice_id, m.kind, m.amount, m.moved_at, m.channel, m.reference,
       m.voided, m.void_reason, m.voided_at
FROM movements m
JOIN invoices i ON i.id = m.invoice_id
WHERE i.unit_id = $1
ORDER BY m.moved_at, m.id`

// StatementMovements returns every movement of a unit keyed by invoice id.
func (r *Repository) StatementMovements(ctx context.Context, unitID int64) (map[int64][]MovementLine, error) {
	rows, err := r.pool.Query(ctx, statementMovementsSQL, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byInvoice := make(map[int64][]MovementLine)
	for rows.Next() {
		var (
			line      MovementLine
			invoiceID int64
			kind      string
		)
		if err := rows.Scan(&line.MovementID, &invoiceID, &kind, &line.Amount, &line.MovedAt, &line.Channel, &line.Reference, &line.Voided, &line.VoidReason, &line.VoidedAt); err != nil {
			return nil, err
		}
		line.Kind = billing.MovementKind(kind)
		byInvoice[invoiceID] = append(byInvoice[invoiceID], line)
	}
	return byInvoice, rows.Err()
}

const collectionTotalsSQL = `
SELECT to_char(date_trunc('month', m.moved_at), 'YYYY-MM') AS period,
       COALESCE(SUM(m.amount), 0)
FROM movements m
JOIN invoices i ON i.id = m.invoice_id
JOIN units u ON u.id = i.unit_id
WHERE u.complex_id = $1
  AND m.voided = FALSE
  AND m.kind IN ('PAYMENT','CREDIT')
  AND m.moved_at >= $2
  AND m.moved_at < $3
GROUP BY 1
ORDER BY 1`

// CollectionTotalsByMonth sums valid collected amounts per calendar month for
// a complex within [from, to), ordered chronologically.
func (r *Repository) CollectionTotalsByMonth(ctx context.Context, complexID int64, from, to time.Time) ([]PeriodTotal, error) {
	rows, err := r.pool.Query(ctx, collectionTotalsSQL, complexID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var totals []PeriodTotal
	for rows.Next() {
		var (
			pt  PeriodTotal
			sum decimal.Decimal
		)
		if err := rows.Scan(&pt.Period, &sum); err != nil {
			return nil, err
		}
		pt.Collected = sum
		totals = append(totals, pt)
	}
	return totals, rows.Err()
}
