package sequence

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hourledger/hourledger/internal/platform/httpx"
	"github.com/hourledger/hourledger/internal/shared"
)

// Handler exposes the generator over JSON.
type Handler struct {
	generator *Generator
	logger    *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, generator *Generator) *Handler {
	return &Handler{logger: logger, generator: generator}
}

// MountRoutes registers the sequence endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sequences/{scope}/next", h.Next)
	r.Get("/sequences/{scope}", h.Stats)
}

// Next handles POST /sequences/{scope}/next.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.ActorFromContext(r.Context()); !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	scope := chi.URLParam(r, "scope")
	number, err := h.generator.Next(r.Context(), scope)
	if err != nil {
		if shared.CodeOf(err) == shared.CodeInternal {
			h.logger.Error("sequence next", slog.String("scope", scope), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"number": number, "scopeKey": scope})
}

// Stats handles GET /sequences/{scope}.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.ActorFromContext(r.Context()); !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	stats, err := h.generator.Stats(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		if shared.CodeOf(err) == shared.CodeInternal {
			h.logger.Error("sequence stats", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
