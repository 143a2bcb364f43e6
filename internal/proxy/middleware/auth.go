package middleware

import (
	"net/http"
	"strings"

	"github.com/pysugar/ami-nexus/internal/db"
	"gorm.io/gorm"
)

// APIKeyAuth validates the inference API key. The key lives in the
// Config table; with no key stored (first run) all requests pass.
func APIKeyAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedKey := db.GetAPIKey(database)
			if expectedKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				if strings.TrimPrefix(auth, "Bearer ") == expectedKey {
					next.ServeHTTP(w, r)
					return
				}
			}
			// Claude clients send x-api-key instead of a bearer token.
			if r.Header.Get("x-api-key") == expectedKey {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid API key"}}`))
		})
	}
}
