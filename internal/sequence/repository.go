package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hourledger/hourledger/internal/platform/db"
	"github.com/hourledger/hourledger/internal/shared"
)

// Repository encapsulates counter storage.
type Repository interface {
	Get(ctx context.Context, sequence, scope string) (Counter, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes counter operations inside a transaction.
type TxRepository interface {
	// Increment adds one to the counter, creating it at 1, and returns the new state.
	Increment(ctx context.Context, sequence, scope string, at time.Time) (Counter, error)
	MarkNearLimit(ctx context.Context, sequence, scope string, at time.Time) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const counterColumns = `sequence, scope_key, last_number, issued_total, last_issued_at, near_limit_warned_at`

func scanCounter(row pgx.Row) (Counter, error) {
	var c Counter
	err := row.Scan(&c.Sequence, &c.ScopeKey, &c.LastNumber, &c.IssuedTotal, &c.LastIssuedAt, &c.NearLimitWarnedAt)
	return c, err
}

func (r *repository) Get(ctx context.Context, sequence, scope string) (Counter, error) {
	c, err := scanCounter(r.pool.QueryRow(ctx, `SELECT `+counterColumns+` FROM sequence_counters WHERE sequence=$1 AND scope_key=$2`, sequence, scope))
	if errors.Is(err, pgx.ErrNoRows) {
		return Counter{}, shared.NotFound("sequence scope", sequence+"/"+scope)
	}
	return c, err
}

// WithTx runs at READ COMMITTED: the upsert serializes on the row lock and never reads
// a stale counter.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Increment(ctx context.Context, sequence, scope string, at time.Time) (Counter, error) {
	return scanCounter(r.tx.QueryRow(ctx, `INSERT INTO sequence_counters (sequence, scope_key, last_number, issued_total, last_issued_at)
VALUES ($1, $2, 1, 1, $3)
ON CONFLICT (sequence, scope_key) DO UPDATE
SET last_number = sequence_counters.last_number + 1,
    issued_total = sequence_counters.issued_total + 1,
    last_issued_at = EXCLUDED.last_issued_at
RETURNING `+counterColumns, sequence, scope, at))
}

func (r *txRepository) MarkNearLimit(ctx context.Context, sequence, scope string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE sequence_counters SET near_limit_warned_at=$3 WHERE sequence=$1 AND scope_key=$2 AND near_limit_warned_at IS NULL`,
		sequence, scope, at)
	return err
}
