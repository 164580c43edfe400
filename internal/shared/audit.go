package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrIncompleteAudit reports an audit entry missing its actor, action or subject.
var ErrIncompleteAudit = errors.New("shared: audit entry requires actor, action, entity and entity id")

// AuditLog is one row of audit_logs.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (l AuditLog) validate() error {
	if l.ActorID == "" || l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return ErrIncompleteAudit
	}
	return nil
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger appends to audit_logs.
type AuditLogger struct {
	db  Execer
	now func() time.Time
}

// NewAuditLogger returns an AuditLogger writing through db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Record persists the entry. A zero At is stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("shared: encode audit meta: %w", err)
	}
	at := entry.At
	if at.IsZero() {
		at = l.now()
	}
	if _, err := l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, raw, at.UTC()); err != nil {
		return fmt.Errorf("shared: write audit %s: %w", entry.Action, err)
	}
	return nil
}
