package daemon

import (
	"crypto/subtle"
	"net/http"
)

const apiKeyHeader = "API-KEY"

// apiKeyMiddleware rejects requests whose API-KEY header does not match key
// before any handler reads the body. An empty key rejects everything.
func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(apiKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"status":"error","message":"Invalid API key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
