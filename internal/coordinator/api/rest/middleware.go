package rest

import (
	"net/http"
	"time"

	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

// LoggingMiddleware logs HTTP requests with method, RPC method, path, status,
// duration, and size. Failed requests are logged as warnings, the rest at
// debug level since executors poll and heartbeat constantly.
func LoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     0,
				written:        0,
			}

			next.ServeHTTP(wrapped, r)

			args := []any{
				"method", r.Method,
				"rpc", r.Header.Get(protocol.HeaderMethod),
				"executor_id", r.Header.Get(protocol.HeaderExecutorID),
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", wrapped.statusCode,
				"bytes", wrapped.written,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if wrapped.statusCode >= http.StatusBadRequest {
				logger.Warn("HTTP request", args...)
			} else {
				logger.Debug("HTTP request", args...)
			}
		})
	}
}

// RecoveryMiddleware recovers from panics and logs them
func RecoveryMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						"method", r.Method,
						"rpc", r.Header.Get(protocol.HeaderMethod),
						"path", r.URL.Path,
						"error", err,
					)
					w.Header().Set("Content-Type", "text/plain; charset=utf-8")
					w.Header().Set("X-Content-Type-Options", "nosniff")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte("Internal Server Error\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ChainMiddleware chains multiple middleware functions together
func ChainMiddleware(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
