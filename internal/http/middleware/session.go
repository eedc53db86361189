package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-fittrack/internal/httputil"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"github.com/tendant/simple-fittrack/pkg/session"
)

type contextKey string

const (
	// SessionIDKey is the context key for the client session id.
	SessionIDKey contextKey = "session_id"
	// ManagerKey is the context key for the client's session manager.
	ManagerKey contextKey = "session_manager"
	// UserKey is the context key for the signed-in user profile.
	UserKey contextKey = "user"
)

// ManagerSource resolves the session manager of a client session.
type ManagerSource interface {
	Get(ctx context.Context, sid string) (*session.Manager, error)
}

// ClientSession reads the client session id from its cookie, issuing a new one when
// the cookie is missing or malformed.
func ClientSession(cookieCfg httputil.CookieConfig, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := httputil.GetSessionIDFromCookie(r)
			if ok {
				if _, err := uuid.Parse(sid); err != nil {
					ok = false
				}
			}
			if !ok {
				sid = uuid.NewString()
				httputil.SetSessionCookie(w, sid, ttl, cookieCfg)
			}

			ctx := context.WithValue(r.Context(), SessionIDKey, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Session attaches the client's started session manager to the request.
// It must run after ClientSession.
func Session(managers ManagerSource, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := GetSessionID(r.Context())
			if !ok {
				httputil.Error(w, http.StatusInternalServerError, "missing client session")
				return
			}

			m, err := managers.Get(r.Context(), sid)
			if err != nil {
				logger.Error("failed to start session manager", "error", err)
				httputil.Error(w, http.StatusServiceUnavailable, "session unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), ManagerKey, m)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests without a signed-in user. While the session is still
// loading it waits up to wait before answering 503.
func RequireUser(wait time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := resolveSession(r, wait)
			if !ok {
				httputil.Error(w, http.StatusInternalServerError, "missing session manager")
				return
			}
			if s.Loading {
				httputil.Error(w, http.StatusServiceUnavailable, "session loading")
				return
			}
			if !s.Authenticated() {
				httputil.Error(w, http.StatusUnauthorized, "not signed in")
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, s.CurrentUser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveSession waits up to wait for the manager's first resolution and returns
// its session.
func resolveSession(r *http.Request, wait time.Duration) (domain.Session, bool) {
	m, ok := GetManager(r.Context())
	if !ok {
		return domain.Session{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	// on timeout the session is still loading and says so
	_ = m.WaitReady(ctx)
	return m.Session(), true
}

// GetSessionID extracts the client session id from the request context.
func GetSessionID(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(SessionIDKey).(string)
	return sid, ok && sid != ""
}

// GetManager extracts the session manager from the request context.
func GetManager(ctx context.Context) (*session.Manager, bool) {
	m, ok := ctx.Value(ManagerKey).(*session.Manager)
	return m, ok && m != nil
}

// CurrentUser extracts the signed-in user set by RequireUser or PageGuard.Protected.
func CurrentUser(ctx context.Context) (*domain.UserProfile, bool) {
	u, ok := ctx.Value(UserKey).(*domain.UserProfile)
	return u, ok && u != nil
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *domain.UserProfile) context.Context {
	return context.WithValue(ctx, UserKey, user)
}
