package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the unit or complex does not exist.
var ErrNotFound = errors.New("directory: not found")

// Repository provides read-only access to units and complexes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUnit retrieves a unit by id.
func (r *Repository) GetUnit(ctx context.Context, id int64) (*Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT id, complex_id, label, owner_name FROM units WHERE id=$1`, id).
		Scan(&u.ID, &u.ComplexID, &u.Label, &u.OwnerName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetComplex retrieves a complex by id.
func (r *Repository) GetComplex(ctx context.Context, id int64) (*Complex, error) {
	var c Complex
	err := r.pool.QueryRow(ctx, `SELECT id, name, active FROM complexes WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListUnits returns all units of a complex ordered by label.
func (r *Repository) ListUnits(ctx context.Context, complexID int64) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, complex_id, label, owner_name FROM units WHERE complex_id=$1 ORDER BY label`, complexID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ComplexID, &u.Label, &u.OwnerName); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

// ListActiveComplexIDs returns ids of complexes with billing enabled, used by
// the aging warmup job.
func (r *Repository) ListActiveComplexIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM complexes WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
