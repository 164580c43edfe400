package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hourledger/hourledger/internal/shared"
)

type listCall struct {
	filter        Filter
	limit, offset int
}

type stubLister struct {
	events []Event
	total  int
	err    error
	calls  []listCall
}

func (s *stubLister) List(_ context.Context, filter Filter, limit, offset int) ([]Event, int, error) {
	s.calls = append(s.calls, listCall{filter, limit, offset})
	return s.events, s.total, s.err
}

func serve(t *testing.T, lister Lister, actor *shared.Actor, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), lister).MountRoutes(r)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestListRequiresManager(t *testing.T) {
	lister := &stubLister{}

	rr := serve(t, lister, nil, "/events")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, lister, &shared.Actor{ID: "ana@firm.test", Role: shared.RoleEmployee}, "/events")
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Empty(t, lister.calls)
}

func TestListPaginatesByLedger(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	lister := &stubLister{
		events: []Event{{ID: "e-9", Type: TimeAdded, LedgerID: "L1", PerformedBy: "ana@firm.test", OccurredAt: at}},
		total:  41,
	}
	boss := &shared.Actor{ID: "boss@firm.test", Role: shared.RoleManager}

	rr := serve(t, lister, boss, "/ledgers/L1/events?page=3&perPage=20&type=TIME_ADDED")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []listCall{{filter: Filter{LedgerID: "L1", Type: TimeAdded}, limit: 20, offset: 40}}, lister.calls)

	var body listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	require.Equal(t, "e-9", body.Events[0].ID)
	require.Equal(t, shared.Pagination{Page: 3, PerPage: 20, Total: 41, TotalPages: 3}, body.Pagination)
}

func TestListRejectsBadPage(t *testing.T) {
	admin := &shared.Actor{ID: "root@firm.test", Role: shared.RoleAdmin}
	rr := serve(t, &stubLister{}, admin, "/events?page=two")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListStoreFailure(t *testing.T) {
	admin := &shared.Actor{ID: "root@firm.test", Role: shared.RoleAdmin}
	rr := serve(t, &stubLister{err: errors.New("connection reset")}, admin, "/events?taskId=T1")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestFilterWhere(t *testing.T) {
	where, args := Filter{}.where()
	require.Empty(t, where)
	require.Empty(t, args)

	where, args = Filter{LedgerID: "L1", Type: PackageDepleted}.where()
	require.Equal(t, " WHERE ledger_id = $1 AND type = $2", where)
	require.Equal(t, []any{"L1", "PACKAGE_DEPLETED"}, args)
}
