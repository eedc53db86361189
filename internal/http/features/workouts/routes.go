package workouts

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the workout API on a router whose requests already carry
// a signed-in user. limitWrite guards workout creation.
func (h *Handler) RegisterRoutes(r chi.Router, limitWrite func(http.Handler) http.Handler) {
	r.Get("/v1/workouts", h.List)
	r.With(limitWrite).Post("/v1/workouts", h.Create)
	r.Get("/v1/workouts/events", h.Events)
}
