package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tendant/simple-fittrack/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := RateLimit(RateLimitConfig{
		Requests: 2,
		Window:   time.Second,
		Logger:   logger,
	})(okHandler())

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i, status := range want {
		req := httptest.NewRequest("POST", "/v1/auth/google", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != status {
			t.Errorf("request %d: got status %d, want %d", i+1, w.Code, status)
		}
	}

	// another client is counted separately
	req := httptest.NewRequest("POST", "/v1/auth/google", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client: got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNoRateLimit(t *testing.T) {
	handler := NoRateLimit()(okHandler())

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestCreateRateLimiters_Disabled(t *testing.T) {
	limiters := CreateRateLimiters(config.RateLimitConfig{Enabled: false}, nil)

	for _, group := range []string{LimitAuth, LimitWrite} {
		handler := limiters[group](okHandler())
		for i := 0; i < 50; i++ {
			req := httptest.NewRequest("POST", "/test", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("%s request %d: got status %d, want %d", group, i, w.Code, http.StatusOK)
			}
		}
	}
}

func TestCreateRateLimiters_Enabled(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:                true,
		AuthRequestsPerMinute:  1,
		AuthWindowMinutes:      1,
		WriteRequestsPerMinute: 5,
		WriteWindowMinutes:     1,
	}
	limiters := CreateRateLimiters(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if len(limiters) != 2 {
		t.Fatalf("got %d limiters, want 2", len(limiters))
	}
	if limiters[LimitWrite] == nil {
		t.Error("write limiter should not be nil")
	}

	handler := limiters[LimitAuth](okHandler())
	for i, status := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("POST", "/v1/auth/signout", nil)
		req.RemoteAddr = "10.0.0.1:1"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != status {
			t.Errorf("auth request %d: got status %d, want %d", i+1, w.Code, status)
		}
	}
}
