package middleware

import (
	"net/http"
	"time"
)

// PageGuard gates HTML pages on the client's sign-in state. Both guards wait up to
// Wait for the session to resolve and serve Loading if it has not.
type PageGuard struct {
	Wait    time.Duration
	Loading http.Handler
}

// Protected serves next to signed-in users and redirects everyone else to the landing page.
func (g PageGuard) Protected(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := resolveSession(r, g.Wait)
		switch {
		case !ok:
			http.Error(w, "missing session manager", http.StatusInternalServerError)
		case s.Loading:
			g.Loading.ServeHTTP(w, r)
		case !s.Authenticated():
			http.Redirect(w, r, "/", http.StatusFound)
		default:
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), s.CurrentUser)))
		}
	})
}

// Landing serves next to anonymous users and sends signed-in users to their workouts.
func (g PageGuard) Landing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := resolveSession(r, g.Wait)
		switch {
		case !ok:
			http.Error(w, "missing session manager", http.StatusInternalServerError)
		case s.Loading:
			g.Loading.ServeHTTP(w, r)
		case s.Authenticated():
			http.Redirect(w, r, "/workouts", http.StatusFound)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
