// Package auth guards the read-only HTTP surfaces with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/avidelta/nexus/internal/platform/env"
	"github.com/avidelta/nexus/internal/platform/httpserver"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	// Token is the expected bearer token. Empty disables authentication.
	Token string
}

func ConfigFromEnv(key string) Config {
	return Config{Token: env.Secret(key)}
}

func (c Config) Enabled() bool {
	return c.Token != ""
}

// Authenticate checks the Authorization header against the configured token.
func (c Config) Authenticate(r *http.Request) error {
	if !c.Enabled() {
		return nil
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(c.Token)) != 1 {
		return ErrUnauthenticated
	}
	return nil
}

type Middleware struct {
	Logger       *slog.Logger
	Config       Config
	SkipPrefixes []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	if !m.Config.Enabled() {
		return next
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if err := m.Config.Authenticate(r); err != nil {
			requestID, _ := httpserver.RequestIDFromContext(r.Context())
			logger.Warn("auth denied",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"request_id", requestID,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="nexus"`)
			httpserver.WriteError(w, r, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}
