package deletion

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hourledger/hourledger/internal/platform/httpx"
	"github.com/hourledger/hourledger/internal/shared"
)

// Handler exposes the governor over JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the deletion endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deletions", h.Delete)
}

// Delete handles POST /deletions.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Delete(r.Context(), actor, req)
	if err != nil {
		if shared.CodeOf(err) == shared.CodeInternal {
			h.logger.Error("deletion request", slog.String("actor", actor.ID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
