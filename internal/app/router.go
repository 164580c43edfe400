package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hourledger/hourledger/internal/deletion"
	"github.com/hourledger/hourledger/internal/events"
	"github.com/hourledger/hourledger/internal/observability"
	"github.com/hourledger/hourledger/internal/platform/httpx"
	"github.com/hourledger/hourledger/internal/sequence"
	"github.com/hourledger/hourledger/internal/timesheet"
	"github.com/hourledger/hourledger/jobs"
)

// Pinger reports store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Store            Pinger
	TimesheetHandler *timesheet.Handler
	SequenceHandler  *sequence.Handler
	DeletionHandler  *deletion.Handler
	EventsHandler    *events.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with HourLedger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Store.Ping(ctx); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.TimesheetHandler != nil {
			params.TimesheetHandler.MountRoutes(r)
		}
		if params.SequenceHandler != nil {
			params.SequenceHandler.MountRoutes(r)
		}
		if params.DeletionHandler != nil {
			params.DeletionHandler.MountRoutes(r)
		}
		if params.EventsHandler != nil {
			params.EventsHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
