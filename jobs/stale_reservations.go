package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hourledger/hourledger/internal/jobs"
	"github.com/hourledger/hourledger/internal/reservation"
)

// StaleLister reports pending reservations past their expiry.
type StaleLister interface {
	Stale(ctx context.Context, limit int) ([]reservation.Reservation, error)
}

// StaleGauge publishes the number of stale reservations.
type StaleGauge interface {
	StaleReservations(n int)
}

// StaleReservationJob logs reservations that never reached commit or rollback.
// It only reports; resolving them is an operator decision.
type StaleReservationJob struct {
	Reservations StaleLister
	Gauge        StaleGauge
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	DefaultLimit int
	clock        func() time.Time
}

// NewStaleReservationJob initialises the report handler.
func NewStaleReservationJob(reservations StaleLister, gauge StaleGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleReservationJob {
	return &StaleReservationJob{
		Reservations: reservations,
		Gauge:        gauge,
		Logger:       logger,
		Metrics:      metrics,
		DefaultLimit: 200,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one report run.
func (j *StaleReservationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reservations == nil {
		return errors.New("stale reservation report: handler not configured")
	}
	var payload StaleReportPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = j.DefaultLimit
	}

	tracker := j.Metrics.Track(TaskStaleReservationReport)
	start := j.clock()
	stale, err := j.Reservations.Stale(ctx, payload.Limit)
	if err != nil {
		j.logger().Error("list stale reservations", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, r := range stale {
		j.logger().Warn("stale reservation",
			slog.String("reservation_id", r.ID),
			slog.String("performed_by", r.PerformedBy),
			slog.Any("operations", r.Operations),
			slog.Time("created_at", r.CreatedAt),
			slog.Duration("overdue", start.Sub(r.ExpiresAt)),
		)
	}
	if j.Gauge != nil {
		j.Gauge.StaleReservations(len(stale))
	}
	j.logger().Info("completed stale reservation report",
		slog.Int("stale", len(stale)),
		slog.Int("limit", payload.Limit),
	)
	return tracker.End(nil)
}

func (j *StaleReservationJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
