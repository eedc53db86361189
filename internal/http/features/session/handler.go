package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/simple-fittrack/internal/http/middleware"
	"github.com/tendant/simple-fittrack/internal/httputil"
)

const keepAliveInterval = 25 * time.Second

// Handler handles the client session endpoints.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a new session handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Get returns the client's session.
// GET /v1/session
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	m, ok := middleware.GetManager(r.Context())
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "missing session")
		return
	}
	httputil.JSON(w, http.StatusOK, m.Session())
}

// Events streams the session and every later change as "session" events.
// GET /v1/session/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	m, ok := middleware.GetManager(r.Context())
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "missing session")
		return
	}

	stream, err := httputil.NewEventStream(w)
	if err != nil {
		h.logger.Error("failed to open event stream", "error", err)
		return
	}

	updates, cancel := m.Watch()
	defer cancel()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if err := stream.Send("session", s); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// SignOut signs the client out. The session is signed out locally even when the
// identity provider fails, which is reported as 502.
// POST /v1/auth/signout
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	m, ok := middleware.GetManager(r.Context())
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "missing session")
		return
	}

	if err := m.SignOut(r.Context()); err != nil {
		httputil.Error(w, http.StatusBadGateway, "sign-out did not complete: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
