package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hourledger/hourledger/internal/jobs"
)

// Purger deletes idempotency records older than a retention window.
type Purger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyPurgeJob enforces idempotency record retention.
type IdempotencyPurgeJob struct {
	Store     Purger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyPurgeJob initialises the purge handler.
func NewIdempotencyPurgeJob(store Purger, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPurgeJob {
	return &IdempotencyPurgeJob{Store: store, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes one purge.
func (j *IdempotencyPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency purge: handler not configured")
	}
	var payload PurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := j.Retention
	if payload.RetentionSeconds > 0 {
		retention = time.Duration(payload.RetentionSeconds) * time.Second
	}
	if retention <= 0 {
		return asynq.SkipRetry
	}

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := j.Metrics.Track(TaskIdempotencyPurge)
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		logger.Error("purge idempotency records", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddPurged("idempotency", removed)
	logger.Info("purged idempotency records",
		slog.Int64("removed", removed),
		slog.Duration("retention", retention),
	)
	return tracker.End(nil)
}
