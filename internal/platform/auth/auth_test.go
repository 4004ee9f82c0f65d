package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	m := Middleware{
		Logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Config:       Config{Token: "s3cret"},
		SkipPrefixes: []string{"/healthz"},
	}
	h := m.Wrap(ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "missing header", path: "/api/runs", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/api/runs", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "wrong token", path: "/api/runs", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", path: "/api/runs", header: "Bearer s3cret", want: http.StatusNoContent},
		{name: "lowercase scheme", path: "/api/runs", header: "bearer s3cret", want: http.StatusNoContent},
		{name: "skipped prefix", path: "/healthz", want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status=%d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	Middleware{}.Wrap(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNoContent)
	}
}
