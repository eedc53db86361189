package google

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tendant/simple-fittrack/internal/http/middleware"
	"github.com/tendant/simple-fittrack/internal/httputil"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"github.com/tendant/simple-fittrack/pkg/identity"
	"github.com/tendant/simple-fittrack/pkg/session"
)

// RedirectCompleter finishes a redirect sign-in from the OAuth callback for the client
// session sid. It fails without signing anyone in when the state belongs to another
// session.
type RedirectCompleter interface {
	CompleteRedirect(ctx context.Context, sid, state, code string) error
}

// SessionRestarter replaces a client's session manager, as a fresh page load would.
type SessionRestarter interface {
	Restart(ctx context.Context, sid string) (*session.Manager, error)
}

// Handler handles Google sign-in endpoints.
type Handler struct {
	completer RedirectCompleter
	sessions  SessionRestarter
	logger    *slog.Logger
}

// NewHandler creates a new Google handler.
func NewHandler(completer RedirectCompleter, sessions SessionRestarter, logger *slog.Logger) *Handler {
	return &Handler{
		completer: completer,
		sessions:  sessions,
		logger:    logger,
	}
}

// SignInRequest is what the page's Google Identity Services code client reported.
// An empty body means the popup client never loaded.
type SignInRequest struct {
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	LoginHint string `json:"login_hint,omitempty"`
}

// SignInResponse holds either the signed-in user or the URL to continue at.
type SignInResponse struct {
	User        *domain.UserProfile `json:"user,omitempty"`
	RedirectURL string              `json:"redirect_url,omitempty"`
}

// SignIn signs the client in with Google.
// POST /v1/auth/google
//
// A popup result completes the sign-in. A dismissed or blocked popup falls back to
// the redirect flow and the response carries the redirect URL.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	m, ok := middleware.GetManager(r.Context())
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "missing session")
		return
	}

	var req SignInRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		middleware.HandleBodyError(w, err)
		return
	}

	cfg := identity.GoogleProviderConfig()
	cfg.LoginHint = req.LoginHint
	if req.Code != "" || req.Error != "" {
		cfg.Popup = &identity.PopupResponse{Code: req.Code, Error: req.Error, Message: req.Message}
	}

	res, err := m.SignInWithGoogle(r.Context(), cfg)
	if err != nil {
		var aerr *identity.AuthError
		if errors.As(err, &aerr) {
			httputil.JSON(w, http.StatusUnauthorized, map[string]string{
				"error": aerr.Error(),
				"kind":  string(aerr.Kind),
			})
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	httputil.JSON(w, http.StatusOK, SignInResponse{User: res.Profile, RedirectURL: res.RedirectURL})
}

// Callback handles the OAuth redirect back from Google.
// GET /v1/auth/google/callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("google sign-in was not completed", "error", errParam)
		redirectWithError(w, r, identity.PopupError(errParam, q.Get("error_description")).Kind)
		return
	}

	sid, ok := middleware.GetSessionID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "missing client session")
		return
	}

	if err := h.completer.CompleteRedirect(r.Context(), sid, q.Get("state"), q.Get("code")); err != nil {
		h.logger.Error("failed to complete google sign-in", "error", err)
		redirectWithError(w, r, identity.KindOf(err))
		return
	}

	// the new manager picks up the pending redirect result on start
	if _, err := h.sessions.Restart(r.Context(), sid); err != nil {
		h.logger.Error("failed to restart session after sign-in", "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func redirectWithError(w http.ResponseWriter, r *http.Request, kind identity.AuthErrorKind) {
	http.Redirect(w, r, "/?error="+url.QueryEscape(string(kind)), http.StatusFound)
}
