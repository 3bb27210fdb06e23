package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/metrics"
	"github.com/fairwayhq/fairway/internal/observability"
)

// statusRecorder remembers the status and body size written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// getEndpointPattern returns the matched chi route, or a coarse bucket for
// unrouted paths, so keys and ids never become label values.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case strings.HasPrefix(path, "/admin/"):
		return "/admin/*"
	case strings.HasPrefix(path, "/v1/"):
		return "/v1/*"
	default:
		return "/unknown"
	}
}

// RequestMetrics records every request, denied ones included, and logs its completion.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		req := metrics.HTTPRequest{
			Method:        r.Method,
			Endpoint:      getEndpointPattern(r),
			Status:        rec.status,
			Duration:      time.Since(start),
			RequestBytes:  max(r.ContentLength, 0),
			ResponseBytes: rec.bytes,
		}
		metrics.RecordHTTPRequest(req)

		if logger := observability.ServerLogger; logger != nil {
			logger.Info("HTTP request completed",
				zap.String("method", req.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", req.Endpoint),
				zap.Int("status", req.Status),
				zap.Duration("duration", req.Duration),
				zap.Int64("response_size", req.ResponseBytes),
				zap.String("requestID", GetRequestID(r.Context())),
				zap.String("principal", PrincipalFromContext(r.Context())),
			)
		}
	})
}
