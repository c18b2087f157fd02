package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"atelier/internal/services"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrValidation, "jobs", "submit", "bad", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrNotFound, "jobs", "generation", "missing", nil), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", services.Wrap(services.ErrConflict, "queue", "remove", "busy", nil)), http.StatusConflict},
		{services.Wrap(services.ErrProvider, "provider", "generate", "down", nil), http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Fatalf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		token  string
		header string
		want   int
	}{
		{"", "", http.StatusTeapot},
		{"abc", "", http.StatusUnauthorized},
		{"abc", "Basic abc", http.StatusUnauthorized},
		{"abc", "Bearer wrong", http.StatusUnauthorized},
		{"abc", "Bearer abc", http.StatusTeapot},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		authMiddleware(tt.token, next).ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Fatalf("token=%q header=%q: got %d, want %d", tt.token, tt.header, w.Code, tt.want)
		}
	}
}

func TestRequestIDMiddlewareReusesHeader(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = services.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if seen != "req-42" || w.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected caller id to propagate, got ctx=%q header=%q", seen, w.Header().Get("X-Request-ID"))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if seen == "" || seen == "req-42" {
		t.Fatalf("expected a generated id, got %q", seen)
	}
}
