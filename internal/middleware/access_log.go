package middleware

import (
	"net/http"
	"time"

	"ai_gateway/internal/logging"
)

// HTTPObserver receives one call per served request.
type HTTPObserver interface {
	ObserveHTTP(method, pattern string, status int, seconds float64)
}

// statusRecorder captures the status code while keeping Flush available
// for server-sent events.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// AccessLog writes one line per request and reports it to observer, which
// may be nil. It must wrap the ServeMux so the matched pattern is known.
func AccessLog(observer HTTPObserver) func(http.Handler) http.Handler {
	logger := logging.NewLogger("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			elapsed := time.Since(start)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration_ms", elapsed.Milliseconds(),
				"remote", r.RemoteAddr,
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Warn("Request served", fields...)
			} else {
				logger.Info("Request served", fields...)
			}

			if observer != nil {
				observer.ObserveHTTP(r.Method, r.Pattern, rec.status, elapsed.Seconds())
			}
		})
	}
}

// Recover turns a handler panic into a 500 and logs it.
func Recover(next http.Handler) http.Handler {
	logger := logging.NewLogger("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Handler panicked", "method", r.Method, "path", r.URL.Path, "panic", rec)
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
