package middleware

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/phrasewatch/phrasewatch/pkg/logger"
)

// Timeout bounds each request with a deadline. Handlers observe it through
// the request context; if one overruns without having written anything, the
// client gets a 504 and the handler's late write is dropped.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			dw := &deadlineWriter{ResponseWriter: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if dw.expire() {
					logger.FromContext(r.Context()).Warn("request deadline exceeded",
						"method", r.Method, "path", r.URL.Path, "limit", limit)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusGatewayTimeout)
					w.Write([]byte(`{"error":"request timeout"}`))
				}
			}
		})
	}
}

// deadlineWriter drops writes that arrive after the deadline response has
// gone out, so a slow handler cannot corrupt the stream.
type deadlineWriter struct {
	http.ResponseWriter
	state atomic.Int32 // 0 untouched, 1 handler wrote, 2 expired
}

func (dw *deadlineWriter) expire() bool {
	return dw.state.CompareAndSwap(0, 2)
}

func (dw *deadlineWriter) WriteHeader(code int) {
	if dw.state.CompareAndSwap(0, 1) || dw.state.Load() == 1 {
		dw.ResponseWriter.WriteHeader(code)
	}
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	if dw.state.CompareAndSwap(0, 1) || dw.state.Load() == 1 {
		return dw.ResponseWriter.Write(b)
	}
	return len(b), nil
}
