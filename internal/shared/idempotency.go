package shared

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry maps idempotency keys to the result of the first successful execution.
type Registry interface {
	// Check returns the stored result for key, if any.
	Check(ctx context.Context, key string) ([]byte, bool, error)
	// Register stores result for key once. A later call with a different result keeps
	// the first one and returns ErrIdempotencyConflict.
	Register(ctx context.Context, key string, result []byte) error
}

// ErrIdempotencyConflict indicates a key was registered again with a different result.
var ErrIdempotencyConflict = errors.New("idempotency key already registered with a different result")

// IdempotencyStore persists processed keys and their results in Postgres.
type IdempotencyStore struct {
	pool   *pgxpool.Pool
	module string
}

// NewIdempotencyStore constructs the store. module tags rows with the owning feature.
func NewIdempotencyStore(pool *pgxpool.Pool, module string) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, module: module}
}

// Check implements Registry.
func (s *IdempotencyStore) Check(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return nil, false, errors.New("idempotency key required")
	}
	var result []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM idempotency_records WHERE key=$1`, key).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// Register implements Registry.
func (s *IdempotencyStore) Register(ctx context.Context, key string, result []byte) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_records (key, module, result, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (key) DO NOTHING`, key, s.module, result, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, _, err := s.Check(ctx, key)
	if err != nil {
		return err
	}
	if !SameResult(existing, result) {
		return ErrIdempotencyConflict
	}
	return nil
}

// Cleanup removes entries older than retention and reports how many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used by operators to release a poisoned key.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE key=$1`, key)
	return err
}

// SameResult compares two JSON documents semantically. Postgres JSONB does not keep key
// order or whitespace, so byte comparison is not enough.
func SameResult(a, b []byte) bool {
	var left, right any
	if err := json.Unmarshal(a, &left); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &right); err != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}

// Lookup decodes a stored result into T.
func Lookup[T any](ctx context.Context, r Registry, key string) (T, bool, error) {
	var out T
	raw, ok, err := r.Check(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// Remember encodes value and registers it under key.
func Remember[T any](ctx context.Context, r Registry, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.Register(ctx, key, raw)
}
