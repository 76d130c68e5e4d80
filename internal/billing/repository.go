package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vesta-hoa/vesta/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for invoices and movements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside an allocate/void
// transaction. The invoice row lock serialises concurrent writers; the
// movement sum is always re-read behind that lock, never from a snapshot
// taken before the transaction began.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error)
	GetMovementForUpdate(ctx context.Context, id int64) (*Movement, error)
	SumValidOffsets(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error
	MarkMovementVoided(ctx context.Context, id int64, reason string, voidedBy int64, at time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. Both the
// movement write and the invoice state write commit together or not at all.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("billing repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// mapPgError translates SQLSTATEs into the billing taxonomy: serialization
// failures, deadlocks and lock timeouts are transient conflicts, unique
// violations on the invoice number are duplicates.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return ErrTxConflict
		case "23505":
			return ErrDuplicateNumber
		}
	}
	return err
}

const invoiceColumns = `id, unit_id, number, issue_date, due_date, subtotal, discount, tax, total, status, period_label, notes, created_at, updated_at`

const movementColumns = `id, invoice_id, kind, amount, moved_at, channel, reference, recorded_by, voided, void_reason, voided_by, voided_at, created_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.UnitID, &inv.Number, &inv.IssueDate, &inv.DueDate,
		&inv.Subtotal, &inv.Discount, &inv.Tax, &inv.Total, &inv.Status,
		&inv.PeriodLabel, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanMovement(row pgx.Row) (*Movement, error) {
	var m Movement
	err := row.Scan(
		&m.ID, &m.InvoiceID, &m.Kind, &m.Amount, &m.MovedAt, &m.Channel,
		&m.Reference, &m.RecordedBy, &m.Voided, &m.VoidReason, &m.VoidedBy,
		&m.VoidedAt, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMovementNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateInvoice inserts a PENDING invoice at the issuance boundary.
func (r *Repository) CreateInvoice(ctx context.Context, input IssueInvoiceInput, total decimal.Decimal) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO invoices (unit_id, number, issue_date, due_date, subtotal, discount, tax, total, status, period_label, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
RETURNING `+invoiceColumns,
		input.UnitID, input.Number, input.IssueDate, input.DueDate,
		input.Subtotal, input.Discount, input.Tax, total,
		StatusPending, input.PeriodLabel, input.Notes)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return inv, nil
}

// GetInvoice retrieves an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
}

// GetMovement retrieves a movement by id.
func (r *Repository) GetMovement(ctx context.Context, id int64) (*Movement, error) {
	return scanMovement(r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE id=$1`, id))
}

// ListMovements returns the full movement history of an invoice, voided
// entries included, oldest first.
func (r *Repository) ListMovements(ctx context.Context, invoiceID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM movements WHERE invoice_id=$1 ORDER BY moved_at ASC, id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// SumValidOffsets returns the settlement sum outside a transaction, for read
// paths only. Write paths use the TxRepository variant behind the row lock.
func (r *Repository) SumValidOffsets(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	return sumValidOffsets(ctx, r.pool, invoiceID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumValidOffsets(ctx context.Context, q queryRower, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)
FROM movements
WHERE invoice_id=$1 AND voided=FALSE AND kind IN ('PAYMENT','CREDIT')`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, id int64) (*Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) SumValidOffsets(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	return sumValidOffsets(ctx, r.tx, invoiceID)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO movements (invoice_id, kind, amount, moved_at, channel, reference, recorded_by, voided, void_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, '', NOW()) RETURNING id`,
		m.InvoiceID, string(m.Kind), m.Amount, m.MovedAt, m.Channel, m.Reference, m.RecordedBy).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET status=$1, updated_at=NOW() WHERE id=$2`, string(status), id)
	return err
}

func (r *txRepository) MarkMovementVoided(ctx context.Context, id int64, reason string, voidedBy int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE movements SET voided=TRUE, void_reason=$1, voided_by=$2, voided_at=$3 WHERE id=$4 AND voided=FALSE`,
		reason, voidedBy, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyVoided
	}
	return nil
}
