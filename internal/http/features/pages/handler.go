package pages

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tendant/simple-fittrack/internal/http/middleware"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"github.com/tendant/simple-fittrack/pkg/identity"
	wk "github.com/tendant/simple-fittrack/pkg/workouts"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const (
	pageLanding      = "landing.html"
	pageLoading      = "loading.html"
	pageWorkouts     = "workouts.html"
	pageAddWorkout   = "add-workout.html"
	pageWorkoutTypes = "workout-types.html"
)

var pageNames = []string{pageLanding, pageLoading, pageWorkouts, pageAddWorkout, pageWorkoutTypes}

const (
	loadWorkoutsError = "Failed to load workouts. Please try again."
	addWorkoutError   = "Failed to add workout. Please try again."
)

var funcs = template.FuncMap{
	"plural": func(n int) string {
		if n == 1 {
			return ""
		}
		return "s"
	},
	"number": func(f float64) string {
		return strconv.FormatFloat(f, 'f', -1, 64)
	},
	"lower": strings.ToLower,
}

// WorkoutService is the workout store used by the pages.
type WorkoutService interface {
	Create(ctx context.Context, user *domain.UserProfile, form wk.Form) (domain.WorkoutRecord, error)
	List(ctx context.Context, userID string) ([]domain.WorkoutRecord, error)
}

// Config configures the pages handler.
type Config struct {
	GoogleClientID string
	Workouts       WorkoutService
	Logger         *slog.Logger
}

// Handler renders the HTML pages.
type Handler struct {
	pages          map[string]*template.Template
	static         http.Handler
	workouts       WorkoutService
	googleClientID string
	logger         *slog.Logger
}

// NewHandler parses the embedded templates.
func NewHandler(cfg Config) (*Handler, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = tmpl
	}

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pages:          pages,
		static:         http.StripPrefix("/static/", http.FileServer(http.FS(static))),
		workouts:       cfg.Workouts,
		googleClientID: cfg.GoogleClientID,
		logger:         logger,
	}, nil
}

// PageData holds data for template rendering.
type PageData struct {
	Title          string
	User           *domain.UserProfile
	GoogleClientID string
	Error          string

	Workouts  []domain.WorkoutRecord
	LoadError string

	Types       []domain.WorkoutType
	Intensities []domain.Intensity
	Form        wk.Form
	Errors      wk.FormErrors
}

// Landing renders the sign-in page.
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, pageLanding, PageData{
		Title:          "Welcome",
		GoogleClientID: h.googleClientID,
		Error:          signInErrorMessage(r.URL.Query().Get("error")),
	})
}

// Loading renders the page shown while the session is still resolving. It reloads itself.
func (h *Handler) Loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	h.render(w, http.StatusOK, pageLoading, PageData{Title: "Loading"})
}

// Workouts renders the signed-in user's workouts.
func (h *Handler) Workouts(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.CurrentUser(r.Context())
	data := PageData{Title: "My Workouts", User: user}

	list, err := h.workouts.List(r.Context(), user.ID)
	if err != nil {
		var qerr *domain.QueryError
		if !errors.As(err, &qerr) {
			h.logger.Error("failed to list workouts", "user_id", user.ID, "error", err)
		}
		data.LoadError = loadWorkoutsError
		h.render(w, http.StatusServiceUnavailable, pageWorkouts, data)
		return
	}

	data.Workouts = list
	h.render(w, http.StatusOK, pageWorkouts, data)
}

// AddWorkoutForm renders an empty new-workout form.
func (h *Handler) AddWorkoutForm(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.CurrentUser(r.Context())
	h.render(w, http.StatusOK, pageAddWorkout, h.formData(user, wk.Form{}))
}

// AddWorkout stores a submitted workout and returns to the list.
func (h *Handler) AddWorkout(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.CurrentUser(r.Context())
	if err := r.ParseForm(); err != nil {
		middleware.HandleBodyError(w, err)
		return
	}

	form := wk.Form{
		ExerciseType: r.PostFormValue("exerciseType"),
		Duration:     r.PostFormValue("duration"),
		Intensity:    r.PostFormValue("intensity"),
	}

	if _, err := h.workouts.Create(r.Context(), user, form); err != nil {
		data := h.formData(user, form)
		var verr *wk.ValidationError
		if errors.As(err, &verr) {
			data.Errors = verr.Fields
			h.render(w, http.StatusBadRequest, pageAddWorkout, data)
			return
		}
		data.Error = addWorkoutError
		h.render(w, http.StatusInternalServerError, pageAddWorkout, data)
		return
	}

	http.Redirect(w, r, "/workouts", http.StatusSeeOther)
}

// WorkoutTypes renders the workout type catalog.
func (h *Handler) WorkoutTypes(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.CurrentUser(r.Context())
	h.render(w, http.StatusOK, pageWorkoutTypes, PageData{
		Title: "Workout Types",
		User:  user,
		Types: wk.Catalog(),
	})
}

// SignOut signs the client out and returns to the landing page. The local session
// is signed out even when the identity provider fails.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if m, ok := middleware.GetManager(r.Context()); ok {
		// the manager logs provider failures
		_ = m.SignOut(r.Context())
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Static serves the page assets under /static/.
func (h *Handler) Static(w http.ResponseWriter, r *http.Request) {
	h.static.ServeHTTP(w, r)
}

func (h *Handler) formData(user *domain.UserProfile, form wk.Form) PageData {
	return PageData{
		Title:       "Add New Workout",
		User:        user,
		Types:       wk.Catalog(),
		Intensities: domain.Intensities,
		Form:        form,
	}
}

func (h *Handler) render(w http.ResponseWriter, status int, page string, data PageData) {
	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error("failed to render page", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func signInErrorMessage(kind string) string {
	switch identity.AuthErrorKind(kind) {
	case "":
		return ""
	case identity.KindInvalidCredential:
		return "Google sign-in was cancelled or rejected."
	case identity.KindInvalidState:
		return "Your sign-in link expired. Please try again."
	case identity.KindNetworkError:
		return "Could not reach Google. Please try again."
	default:
		return "Sign-in failed. Please try again."
	}
}
