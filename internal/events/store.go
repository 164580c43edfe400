package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store appends events. Implementations must never update or delete.
type Store interface {
	Append(ctx context.Context, e Event) error
}

// PostgresStore writes into time_events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(orEmpty(e.Payload))
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	before, err := encodeOptional(e.Before)
	if err != nil {
		return err
	}
	after, err := encodeOptional(e.After)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO time_events
(id, type, ledger_id, service_id, stage_id, package_id, task_id, timesheet_id, payload, before_state, after_state, performed_by, idempotency_key, occurred_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, NULLIF($13, ''), $14)`,
		e.ID, string(e.Type), e.LedgerID, e.ServiceID, e.StageID, e.PackageID, e.TaskID, e.TimesheetID,
		payload, before, after, e.PerformedBy, e.IdempotencyKey, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("events: append: %w", err)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func encodeOptional(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("events: encode state: %w", err)
	}
	return raw, nil
}
