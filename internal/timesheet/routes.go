package timesheet

import "github.com/go-chi/chi/v5"

// MountRoutes registers the timesheet, task and ledger endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/timesheets", h.Post)
	r.Patch("/timesheets/{id}", h.Edit)
	r.Post("/tasks/{id}/complete", h.Complete)
	r.Post("/tasks/{id}/cancel", h.Cancel)
	r.Get("/ledgers/{id}/balance", h.Balance)
}
