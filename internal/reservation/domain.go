package reservation

import (
	"errors"
	"time"
)

// Status enumerates reservation lifecycle states.
type Status string

const (
	// StatusPending is written before the guarded transaction starts.
	StatusPending Status = "pending"
	// StatusCommitted marks a transaction that succeeded.
	StatusCommitted Status = "committed"
	// StatusRolledBack marks a transaction that failed.
	StatusRolledBack Status = "rolled_back"
)

var (
	// ErrNotPending indicates the reservation was already resolved or never existed.
	ErrNotPending = errors.New("reservation: not pending")
	// ErrNoOperations indicates an intent without declared operations.
	ErrNoOperations = errors.New("reservation: operations required")
)

// Intent declares what a transaction is about to mutate.
type Intent struct {
	Operations  []string
	Payload     map[string]any
	PerformedBy string
}

// Reservation is the persisted marker around one transaction attempt.
type Reservation struct {
	ID          string
	Operations  []string
	Payload     map[string]any
	Status      Status
	PerformedBy string
	Error       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ResolvedAt  *time.Time
}
