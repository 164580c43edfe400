// Package reservation records intent around multi-entity transactions so operators can
// tell apart "never attempted", "attempted and failed" and "succeeded" after the fact.
// It does not undo anything: the guarded transaction is atomic on its own.
package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a pending reservation is expected to live.
const DefaultTTL = 5 * time.Minute

// Coordinator creates and resolves reservations.
type Coordinator struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewCoordinator constructs a Coordinator. A non-positive ttl falls back to DefaultTTL.
func NewCoordinator(repo Repository, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{repo: repo, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock for tests.
func (c *Coordinator) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Create writes a pending reservation for intent.
func (c *Coordinator) Create(ctx context.Context, intent Intent) (Reservation, error) {
	if len(intent.Operations) == 0 {
		return Reservation{}, ErrNoOperations
	}
	now := c.now()
	res := Reservation{
		ID:          "rsv_" + uuid.NewString(),
		Operations:  append([]string(nil), intent.Operations...),
		Payload:     intent.Payload,
		Status:      StatusPending,
		PerformedBy: intent.PerformedBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if err := c.repo.Insert(ctx, res); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// Commit marks the reservation committed.
func (c *Coordinator) Commit(ctx context.Context, id string) error {
	return c.repo.Resolve(ctx, id, StatusCommitted, "", c.now())
}

// Rollback marks the reservation rolled back and records cause.
func (c *Coordinator) Rollback(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return c.repo.Resolve(ctx, id, StatusRolledBack, msg, c.now())
}

// Stale lists pending reservations whose expiry has passed.
func (c *Coordinator) Stale(ctx context.Context, limit int) ([]Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	return c.repo.ListStale(ctx, c.now(), limit)
}
