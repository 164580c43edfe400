package events

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hourledger/hourledger/internal/platform/httpx"
	"github.com/hourledger/hourledger/internal/shared"
)

// Lister reads the log back for review screens.
type Lister interface {
	List(ctx context.Context, filter Filter, limit, offset int) ([]Event, int, error)
}

// Handler exposes read access to the event log. Only managers and admins may read it.
type Handler struct {
	lister Lister
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, lister Lister) *Handler {
	return &Handler{logger: logger, lister: lister}
}

// MountRoutes registers the event log endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/events", h.List)
	r.Get("/ledgers/{id}/events", h.List)
}

type listResponse struct {
	Events     []Event           `json:"events"`
	Pagination shared.Pagination `json:"pagination"`
}

// List handles GET /events and GET /ledgers/{id}/events.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	if !actor.IsAdmin() {
		httpx.RespondError(w, shared.PermissionDenied("event log is restricted to managers", map[string]any{"role": string(actor.Role)}))
		return
	}

	q := r.URL.Query()
	filter := Filter{
		LedgerID: q.Get("ledgerId"),
		TaskID:   q.Get("taskId"),
		Type:     Type(q.Get("type")),
	}
	if id := chi.URLParam(r, "id"); id != "" {
		filter.LedgerID = id
	}
	page, err := intParam(q.Get("page"), "page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, err := intParam(q.Get("perPage"), "perPage")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	p := shared.NewPagination(page, perPage, 0)
	items, total, err := h.lister.List(r.Context(), filter, p.PerPage, p.Offset())
	if err != nil {
		h.logger.Error("list events", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Events:     items,
		Pagination: shared.NewPagination(p.Page, p.PerPage, total),
	})
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, shared.InvalidArgument(name+" must be a non-negative integer", map[string]any{name: raw})
	}
	return n, nil
}
