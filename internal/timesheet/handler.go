package timesheet

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hourledger/hourledger/internal/platform/httpx"
	"github.com/hourledger/hourledger/internal/shared"
)

// Handler exposes the timesheet service over JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type postRequest struct {
	LedgerID        string `json:"ledgerId"`
	ServiceID       string `json:"serviceId"`
	StageID         string `json:"stageId"`
	TaskID          string `json:"taskId"`
	Minutes         int    `json:"minutes"`
	Date            string `json:"date"`
	Description     string `json:"description"`
	IsInternal      bool   `json:"isInternal"`
	ExpectedVersion *int64 `json:"expectedVersion"`
	IdempotencyKey  string `json:"idempotencyKey"`
}

type editRequest struct {
	Description *string `json:"description"`
	Date        *string `json:"date"`
	Minutes     *int    `json:"minutes"`
	Reason      string  `json:"reason"`
}

type completeRequest struct {
	Notes     string `json:"notes"`
	GapReason string `json:"gapReason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Post handles POST /timesheets. The Idempotency-Key header is used when the body
// carries no key.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	result, err := h.service.Post(r.Context(), actor, PostInput{
		LedgerID:        req.LedgerID,
		ServiceID:       req.ServiceID,
		StageID:         req.StageID,
		TaskID:          req.TaskID,
		Minutes:         req.Minutes,
		Date:            date,
		Description:     req.Description,
		IsInternal:      req.IsInternal,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  key,
	})
	if err != nil {
		h.fail(w, "post timesheet", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

// Edit handles PATCH /timesheets/{id}.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req editRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := EditInput{EntryID: chi.URLParam(r, "id"), Description: req.Description, Minutes: req.Minutes, Reason: req.Reason}
	if req.Date != nil {
		date, err := parseDate("date", *req.Date)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.Date = &date
	}
	entry, err := h.service.EditEntry(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "edit timesheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entryView(entry))
}

// Complete handles POST /tasks/{id}/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	task, err := h.service.CompleteTask(r.Context(), actor, CompleteInput{TaskID: chi.URLParam(r, "id"), Notes: req.Notes, GapReason: req.GapReason})
	if err != nil {
		h.fail(w, "complete task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"taskId":     task.ID,
		"status":     task.Status,
		"version":    task.Version,
		"completion": task.Completion,
	})
}

// Cancel handles POST /tasks/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	task, err := h.service.CancelTask(r.Context(), actor, CancelInput{TaskID: chi.URLParam(r, "id"), Reason: req.Reason})
	if err != nil {
		h.fail(w, "cancel task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"taskId":       task.ID,
		"status":       task.Status,
		"version":      task.Version,
		"cancellation": task.Cancellation,
	})
}

// Balance handles GET /ledgers/{id}/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	balance, err := h.service.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "ledger balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.CodeOf(err) == shared.CodeInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, shared.InvalidArgument("invalid "+field, map[string]any{"fields": map[string]any{field: "date"}})
	}
	return t, nil
}

func entryView(e Entry) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"taskId":      e.TaskID,
		"ledgerId":    e.LedgerID,
		"employee":    e.Employee,
		"minutes":     e.Minutes,
		"hours":       e.Hours,
		"date":        e.Date.Format(DateLayout),
		"description": e.Description,
		"isInternal":  e.IsInternal,
		"edits":       e.Edits,
	}
}
