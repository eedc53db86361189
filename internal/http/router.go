package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-fittrack/internal/config"
	"github.com/tendant/simple-fittrack/internal/http/features/google"
	"github.com/tendant/simple-fittrack/internal/http/features/pages"
	"github.com/tendant/simple-fittrack/internal/http/features/session"
	"github.com/tendant/simple-fittrack/internal/http/features/workouts"
	"github.com/tendant/simple-fittrack/internal/http/middleware"
	"github.com/tendant/simple-fittrack/internal/httputil"
	sessionpkg "github.com/tendant/simple-fittrack/pkg/session"
	workoutspkg "github.com/tendant/simple-fittrack/pkg/workouts"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	Sessions        *sessionpkg.Registry
	Google          google.RedirectCompleter
	GoogleClientID  string
	Workouts        *workoutspkg.Service
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
	Cookie          httputil.CookieConfig
	CookieTTL       time.Duration // Lifetime of the client session cookie
	GuardWait       time.Duration // How long pages and the API wait for a loading session
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	pagesHandler, err := pages.NewHandler(pages.Config{
		GoogleClientID: cfg.GoogleClientID,
		Workouts:       cfg.Workouts,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load page templates: %w", err)
	}

	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/static/*", pagesHandler.Static)

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	workoutsHandler := workouts.NewHandler(cfg.Workouts, cfg.Logger)
	r.Get("/v1/workout-types", workoutsHandler.Types)

	// Everything below belongs to a client session
	r.Group(func(r chi.Router) {
		r.Use(middleware.ClientSession(cfg.Cookie, cfg.CookieTTL))
		r.Use(middleware.Session(cfg.Sessions, cfg.Logger))

		sessionHandler := session.NewHandler(cfg.Logger)
		r.Get("/v1/session", sessionHandler.Get)
		r.Get("/v1/session/events", sessionHandler.Events)

		googleHandler := google.NewHandler(cfg.Google, cfg.Sessions, cfg.Logger)
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitAuth])
			r.Post("/v1/auth/google", googleHandler.SignIn)
			r.Post("/v1/auth/signout", sessionHandler.SignOut)
		})
		r.Get("/v1/auth/google/callback", googleHandler.Callback)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(cfg.GuardWait))
			workoutsHandler.RegisterRoutes(r, rateLimiters[middleware.LimitWrite])
		})

		pagesHandler.RegisterRoutes(r, cfg.GuardWait, rateLimiters[middleware.LimitWrite])
	})

	return r, nil
}
