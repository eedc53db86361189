package pages

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-fittrack/internal/http/middleware"
)

// RegisterRoutes registers the page routes on a router that already carries the
// session middleware. Pages wait up to wait for a loading session. limitWrite guards
// the form submissions.
func (h *Handler) RegisterRoutes(r chi.Router, wait time.Duration, limitWrite func(http.Handler) http.Handler) {
	guard := middleware.PageGuard{Wait: wait, Loading: http.HandlerFunc(h.Loading)}

	r.With(guard.Landing).Get("/", h.Landing)

	r.Group(func(r chi.Router) {
		r.Use(guard.Protected)
		r.Get("/workouts", h.Workouts)
		r.Get("/add-workout", h.AddWorkoutForm)
		r.With(limitWrite).Post("/add-workout", h.AddWorkout)
		r.Get("/workout-types", h.WorkoutTypes)
	})

	r.Post("/signout", h.SignOut)
}
