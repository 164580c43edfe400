package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists reservations.
type Repository interface {
	Insert(ctx context.Context, r Reservation) error
	// Resolve moves a pending reservation to status. It returns ErrNotPending when the
	// reservation is missing or already resolved.
	Resolve(ctx context.Context, id string, status Status, errMsg string, at time.Time) error
	ListStale(ctx context.Context, expiredBefore time.Time, limit int) ([]Reservation, error)
}

// PostgresRepository stores reservations in the reservations table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres backed repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert implements Repository.
func (r *PostgresRepository) Insert(ctx context.Context, res Reservation) error {
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return fmt.Errorf("reservation: encode payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO reservations (id, operations, payload, status, performed_by, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, res.ID, res.Operations, payload, string(res.Status), res.PerformedBy, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("reservation: insert: %w", err)
	}
	return nil
}

// Resolve implements Repository.
func (r *PostgresRepository) Resolve(ctx context.Context, id string, status Status, errMsg string, at time.Time) error {
	var errArg *string
	if errMsg != "" {
		errArg = &errMsg
	}
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status=$2, error=$3, resolved_at=$4 WHERE id=$1 AND status='pending'`, id, string(status), errArg, at)
	if err != nil {
		return fmt.Errorf("reservation: resolve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// ListStale implements Repository.
func (r *PostgresRepository) ListStale(ctx context.Context, expiredBefore time.Time, limit int) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, operations, payload, status, performed_by, created_at, expires_at
FROM reservations WHERE status='pending' AND expires_at < $1 ORDER BY expires_at LIMIT $2`, expiredBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("reservation: list stale: %w", err)
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var (
			res     Reservation
			status  string
			payload []byte
		)
		if err := rows.Scan(&res.ID, &res.Operations, &payload, &status, &res.PerformedBy, &res.CreatedAt, &res.ExpiresAt); err != nil {
			return nil, err
		}
		res.Status = Status(status)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &res.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
