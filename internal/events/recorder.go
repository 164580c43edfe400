package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// FailureCounter counts dropped event writes.
type FailureCounter interface {
	EventWriteFailed(eventType string)
}

// Recorder is the best-effort front of a Store: it fills ids and timestamps, and a
// failed write is logged and counted instead of returned.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics FailureCounter
	now     func() time.Time
}

// NewRecorder constructs a Recorder. metrics may be nil.
func NewRecorder(store Store, logger *slog.Logger, metrics FailureCounter) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends e and reports whether it was stored.
func (r *Recorder) Record(ctx context.Context, e Event) bool {
	if r == nil || r.store == nil {
		return false
	}
	if e.ID == "" {
		e.ID = "evt_" + uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}
	err := e.Validate()
	if err == nil {
		err = r.store.Append(ctx, e)
	}
	if err != nil {
		r.logger.Warn("event log write dropped",
			slog.String("event_type", string(e.Type)),
			slog.String("event_id", e.ID),
			slog.String("ledger_id", e.LedgerID),
			slog.Any("error", err),
		)
		if r.metrics != nil {
			r.metrics.EventWriteFailed(string(e.Type))
		}
		return false
	}
	return true
}
