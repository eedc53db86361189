package workouts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/simple-fittrack/internal/http/middleware"
	"github.com/tendant/simple-fittrack/internal/httputil"
	"github.com/tendant/simple-fittrack/pkg/domain"
	wk "github.com/tendant/simple-fittrack/pkg/workouts"
)

// LoadErrorMessage is shown when the workout query fails.
const LoadErrorMessage = "Failed to load workouts. Please try again."

const keepAliveInterval = 25 * time.Second

// Service is the workout store used by the handler.
type Service interface {
	Create(ctx context.Context, user *domain.UserProfile, form wk.Form) (domain.WorkoutRecord, error)
	Watch(ctx context.Context, userID string) (<-chan wk.Update, error)
	List(ctx context.Context, userID string) ([]domain.WorkoutRecord, error)
}

// Handler handles workout endpoints. All but Types require a signed-in user.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// NewHandler creates a new workouts handler.
func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// ListResponse is the signed-in user's workout list.
type ListResponse struct {
	Workouts []domain.WorkoutRecord `json:"workouts"`
	Count    int                    `json:"count"`
}

// List returns the signed-in user's workouts.
// GET /v1/workouts
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.CurrentUser(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	list, err := h.service.List(r.Context(), user.ID)
	if err != nil {
		var qerr *domain.QueryError
		if errors.As(err, &qerr) {
			httputil.Error(w, http.StatusServiceUnavailable, LoadErrorMessage)
			return
		}
		h.logger.Error("failed to list workouts", "user_id", user.ID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, LoadErrorMessage)
		return
	}

	httputil.JSON(w, http.StatusOK, ListResponse{Workouts: list, Count: len(list)})
}

// Create adds a workout for the signed-in user.
// POST /v1/workouts
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.CurrentUser(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	var form wk.Form
	if err := httputil.DecodeJSON(r, &form); err != nil {
		middleware.HandleBodyError(w, err)
		return
	}

	rec, err := h.service.Create(r.Context(), user, form)
	if err != nil {
		var verr *wk.ValidationError
		switch {
		case errors.As(err, &verr):
			httputil.JSON(w, http.StatusBadRequest, map[string]any{"errors": verr.Fields})
		case errors.Is(err, domain.ErrNotSignedIn):
			httputil.Error(w, http.StatusUnauthorized, "not signed in")
		default:
			httputil.Error(w, http.StatusInternalServerError, "Failed to add workout. Please try again.")
		}
		return
	}

	httputil.JSON(w, http.StatusCreated, rec)
}

// Events streams the signed-in user's workout list as "workouts" events, or an
// "error" event when the query fails.
// GET /v1/workouts/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.CurrentUser(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	updates, err := h.service.Watch(r.Context(), user.ID)
	if err != nil {
		httputil.Error(w, http.StatusServiceUnavailable, LoadErrorMessage)
		return
	}

	stream, err := httputil.NewEventStream(w)
	if err != nil {
		h.logger.Error("failed to open event stream", "error", err)
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Err != nil {
				err = stream.Send("error", map[string]string{"error": LoadErrorMessage})
			} else {
				err = stream.Send("workouts", ListResponse{Workouts: u.Workouts, Count: len(u.Workouts)})
			}
			if err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// Types returns the workout type catalog.
// GET /v1/workout-types
func (h *Handler) Types(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{"workoutTypes": wk.Catalog()})
}
