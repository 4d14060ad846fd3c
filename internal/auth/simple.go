package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// TokenEnv names the variable holding the shared API token.
const TokenEnv = "MAGNETRON_API_TOKEN"

// public paths skip authentication.
var public = map[string]bool{"/healthz": true, "/readyz": true}

// Middleware requires "Authorization: Bearer <token>" on every request
// except health checks and uploaded images.
// Event streams may pass the token as ?token= instead, since browsers cannot
// set headers on EventSource. With no token configured the API is open.
func Middleware(next http.Handler) http.Handler {
	token := os.Getenv(TokenEnv)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || public[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/uploads/") {
			next.ServeHTTP(w, r)
			return
		}

		got, ok := bearer(r)
		if !ok && strings.HasPrefix(r.URL.Path, "/download/events/") {
			got, ok = r.URL.Query().Get("token"), r.URL.Query().Has("token")
		}
		if !ok {
			http.Error(w, "missing API token", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "invalid API token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")), true
}
