package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/KixPanganiban/jiraiya-go/internal/logging"
)

// authMiddleware enforces Bearer token authentication when apiKey is
// non-empty. With an empty apiKey the middleware is a no-op, which keeps
// local development friction-free.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logging.FromContext(r.Context()).Warn("unauthorized request",
				slog.String("ip", clientIP(r)),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="jiraiya"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns "" when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return auth[len(prefix):]
}
