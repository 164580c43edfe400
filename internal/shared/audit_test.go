package shared

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestAuditLoggerRecord(t *testing.T) {
	db := &fakeExecer{}
	logger := NewAuditLogger(db)
	stamp := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return stamp }

	err := logger.Record(context.Background(), AuditLog{
		ActorID:  "ana@firm.test",
		Action:   "COMPLETE_TASK",
		Entity:   "task",
		EntityID: "T1",
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)

	args := db.calls[0].args
	require.Equal(t, "ana@firm.test", args[0])
	require.JSONEq(t, `{}`, string(args[4].([]byte)))
	require.Equal(t, stamp, args[5])
}

func TestAuditLoggerKeepsExplicitTimeAndMeta(t *testing.T) {
	db := &fakeExecer{}
	at := time.Date(2024, 12, 31, 23, 0, 0, 0, time.FixedZone("WIB", 7*3600))

	err := NewAuditLogger(db).Record(context.Background(), AuditLog{
		ActorID: "boss@firm.test", Action: "EDIT_TIMESHEET_ENTRY", Entity: "timesheet_entry", EntityID: "E1",
		Meta: map[string]any{"reason": "typo"},
		At:   at,
	})
	require.NoError(t, err)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(db.calls[0].args[4].([]byte), &meta))
	require.Equal(t, "typo", meta["reason"])
	require.Equal(t, at.UTC(), db.calls[0].args[5])
}

func TestAuditLoggerRejectsIncompleteEntries(t *testing.T) {
	db := &fakeExecer{}
	err := NewAuditLogger(db).Record(context.Background(), AuditLog{Action: "CANCEL_TASK", Entity: "task", EntityID: "T1"})
	require.ErrorIs(t, err, ErrIncompleteAudit)
	require.Empty(t, db.calls)
}

func TestAuditLoggerWriteFailures(t *testing.T) {
	db := &fakeExecer{err: errors.New("connection reset")}

	err := NewAuditLogger(db).Record(context.Background(), AuditLog{
		ActorID: "ana@firm.test", Action: "CANCEL_TASK", Entity: "task", EntityID: "T1",
	})
	require.ErrorContains(t, err, "connection reset")
	require.ErrorContains(t, err, "CANCEL_TASK")

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}
