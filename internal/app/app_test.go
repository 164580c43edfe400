package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hourledger/hourledger/internal/observability"
	"github.com/hourledger/hourledger/internal/shared"
	_ "github.com/hourledger/hourledger/internal/testing/guard"
	"github.com/hourledger/hourledger/jobs"
)

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func testRouter(store Pinger) http.Handler {
	return NewRouter(RouterParams{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:     &Config{AppEnv: "test", HTTPRateLimit: 1000, CORSOrigins: []string{"https://app.firm.test"}},
		Store:      store,
		JobHandler: jobs.NewHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil))),
		Metrics:    observability.NewMetrics(),
	})
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DELETION_KILL_SWITCH", "true")
	t.Setenv("LEDGER_OVERDRAFT_LIMIT_HOURS", "7.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.True(t, cfg.OverdraftLimitHours.Equal(decimal.RequireFromString("7.5")))

	ts := cfg.Timesheet()
	require.Equal(t, 3, ts.RetryAttempts)
	require.Equal(t, 100*time.Millisecond, ts.RetryBackoff)

	seq := cfg.Sequence()
	require.Equal(t, "case", seq.Name)
	require.Equal(t, 3, seq.Width)

	del := cfg.Deletion()
	require.True(t, del.KillSwitch)
	require.Equal(t, 10, del.Rate.MaxPerWindow)
	require.Equal(t, 5*time.Minute, del.Rate.Window)
	require.Equal(t, 30*time.Second, del.Rate.Cooldown)
	require.Equal(t, 500, del.BatchSize)
	require.Equal(t, 10, del.OwnershipBatch)
}

func TestLoadConfigRejectsWideSequence(t *testing.T) {
	t.Setenv("SEQUENCE_WIDTH", "19")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestActorMiddleware(t *testing.T) {
	var got shared.Actor
	var ok bool
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, " Alice@Firm.test ")
	req.Header.Set(HeaderActorName, "Alice")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, ok)
	require.Equal(t, "alice@firm.test", got.ID)
	require.Equal(t, shared.RoleEmployee, got.Role)
	require.Equal(t, "Alice", got.DisplayName)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "boss@firm.test")
	req.Header.Set(HeaderActorRole, "Admin")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, got.IsAdmin())
}

func TestRouterHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(pingStub{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	testRouter(pingStub{err: errors.New("down")}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterMountsJobsAndMetrics(t *testing.T) {
	router := testRouter(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "hourledger_http_requests_total")
}

func TestRouterCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/timesheets", nil)
	req.Header.Set("Origin", "https://app.firm.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	rr := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rr, req)
	require.Equal(t, "https://app.firm.test", rr.Header().Get("Access-Control-Allow-Origin"))
}
