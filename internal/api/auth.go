package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader carries the API key for clients that cannot send a bearer token.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth rejects requests that present neither "Bearer <key>" nor an
// X-API-Key header equal to key.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validKey(r, key) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validKey(r *http.Request, key string) bool {
	got := r.Header.Get(APIKeyHeader)
	if got == "" {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) {
			return false
		}
		got = auth[len(prefix):]
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}
