package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/phrasewatch/phrasewatch/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID returns middleware that attaches a request id to every request:
// an incoming X-Request-ID is kept, otherwise a fresh one is generated. The
// id is stored in the request context and echoed in the response header.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = newRequestID()
			}
			ctx := logger.WithRequestID(r.Context(), id)
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID returns the request id attached by RequestID, or "".
func GetRequestID(r *http.Request) string {
	return logger.RequestIDFromContext(r.Context())
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
