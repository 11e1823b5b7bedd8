// Package middleware holds the gateway's middleware: API-key auth with
// scope enforcement, CORS, and per-key rate limiting.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/phrasewatch/phrasewatch/internal/auth/apikey"
)

type contextKey string

const apiKeyInfoKey contextKey = "api_key_info"

// Auth validates the presented API key and enforces its scope against the
// route. Keys arrive via Authorization: Bearer, X-API-Key, or the api_key
// query parameter. Health endpoints are exempt.
func Auth(validator *apikey.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			info, err := validator.Validate(r.Context(), key)
			if err != nil {
				switch {
				case errors.Is(err, apikey.ErrInvalidKey):
					writeError(w, http.StatusUnauthorized, "invalid api key")
				case errors.Is(err, apikey.ErrExpiredKey):
					writeError(w, http.StatusUnauthorized, "expired api key")
				default:
					writeError(w, http.StatusInternalServerError, "authentication error")
				}
				return
			}

			if !info.Allows(requiredScope(r)) {
				writeError(w, http.StatusForbidden, "key scope does not cover this endpoint")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyInfo returns the validated KeyInfo placed in context by Auth.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(apiKeyInfoKey).(*apikey.KeyInfo)
	return info
}

// requiredScope maps a route to the narrowest scope that may call it.
// Admin covers key management and cache invalidation, intake covers batch
// submission, everything else needs only score.
func requiredScope(r *http.Request) string {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/v1/admin/"),
		r.URL.Path == "/api/v1/cache/invalidate":
		return apikey.ScopeAdmin
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/batches":
		return apikey.ScopeIntake
	default:
		return apikey.ScopeScore
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
