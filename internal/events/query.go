package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Filter narrows an event listing. Empty fields match everything.
type Filter struct {
	LedgerID string
	TaskID   string
	Type     Type
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("ledger_id", f.LedgerID)
	add("task_id", f.TaskID)
	add("type", string(f.Type))
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns events matching filter, newest first, plus the total match count.
func (s *PostgresStore) List(ctx context.Context, filter Filter, limit, offset int) ([]Event, int, error) {
	where, args := filter.where()

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM time_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("events: count: %w", err)
	}
	if total == 0 {
		return []Event{}, 0, nil
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT id, type, COALESCE(ledger_id, ''), COALESCE(service_id, ''), COALESCE(stage_id, ''),
COALESCE(package_id, ''), COALESCE(task_id, ''), COALESCE(timesheet_id, ''), payload, before_state, after_state,
performed_by, COALESCE(idempotency_key, ''), occurred_at
FROM time_events%s ORDER BY occurred_at DESC, id LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("events: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, 0, fmt.Errorf("events: list: %w", err)
	}
	return out, total, nil
}

func scanEvent(row pgx.CollectableRow) (Event, error) {
	var (
		e                      Event
		typ                    string
		payload, before, after []byte
		occurred               time.Time
	)
	if err := row.Scan(&e.ID, &typ, &e.LedgerID, &e.ServiceID, &e.StageID, &e.PackageID, &e.TaskID,
		&e.TimesheetID, &payload, &before, &after, &e.PerformedBy, &e.IdempotencyKey, &occurred); err != nil {
		return Event{}, err
	}
	e.Type = Type(typ)
	e.OccurredAt = occurred.UTC()
	for _, doc := range []struct {
		raw    []byte
		target *map[string]any
	}{{payload, &e.Payload}, {before, &e.Before}, {after, &e.After}} {
		if len(doc.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.raw, doc.target); err != nil {
			return Event{}, fmt.Errorf("decode event %s: %w", e.ID, err)
		}
	}
	return e, nil
}
