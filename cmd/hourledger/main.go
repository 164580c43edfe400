package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hourledger/hourledger/internal/app"
	"github.com/hourledger/hourledger/internal/deletion"
	"github.com/hourledger/hourledger/internal/events"
	"github.com/hourledger/hourledger/internal/observability"
	"github.com/hourledger/hourledger/internal/platform/cache"
	"github.com/hourledger/hourledger/internal/platform/db"
	"github.com/hourledger/hourledger/internal/reservation"
	"github.com/hourledger/hourledger/internal/sequence"
	"github.com/hourledger/hourledger/internal/shared"
	"github.com/hourledger/hourledger/internal/timesheet"
	"github.com/hourledger/hourledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// The ledger stays available without Redis; idempotency falls back to Postgres.
	var idempotency shared.Registry = shared.NewIdempotencyStore(dbpool, "timesheet")
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, idempotency cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		idempotency = shared.NewCachedRegistry(idempotency, shared.NewRedisRegistry(redisClient, cfg.IdempotencyCacheTTL), logger)
	}

	metrics := observability.NewMetrics()
	ledgerMetrics := observability.NewLedgerMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(dbpool)
	coordinator := reservation.NewCoordinator(reservation.NewRepository(dbpool), cfg.ReservationTTL)
	eventStore := events.NewPostgresStore(dbpool)
	recorder := events.NewRecorder(eventStore, logger, ledgerMetrics)
	eventsHandler := events.NewHandler(logger, eventStore)

	timesheetService := timesheet.NewService(timesheet.Deps{
		Repo:         timesheet.NewRepository(dbpool),
		Reservations: coordinator,
		Events:       recorder,
		Idempotency:  idempotency,
		Audit:        auditLogger,
		Metrics:      ledgerMetrics,
		Logger:       logger,
	}, cfg.Timesheet())
	timesheetHandler := timesheet.NewHandler(logger, timesheetService)

	generator := sequence.NewGenerator(sequence.NewRepository(dbpool), cfg.Sequence(), logger, ledgerMetrics)
	sequenceHandler := sequence.NewHandler(logger, generator)

	deletionService := deletion.NewService(deletion.NewRepository(dbpool), cfg.Deletion(), logger, ledgerMetrics)
	deletionHandler := deletion.NewHandler(logger, deletionService)
	if cfg.DeletionKillSwitch {
		logger.Warn("deletion kill switch engaged, deletions run as dry runs")
	}

	inspector := asynq.NewInspector(cfg.Queue())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Store:            dbpool,
		TimesheetHandler: timesheetHandler,
		SequenceHandler:  sequenceHandler,
		DeletionHandler:  deletionHandler,
		EventsHandler:    eventsHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
