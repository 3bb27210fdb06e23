package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// HTTP metric names
const (
	HTTPRequestsName     = "http_requests_total"
	HTTPDurationName     = "http_request_duration_ms"
	HTTPRequestSizeName  = "http_request_size_bytes"
	HTTPResponseSizeName = "http_response_size_bytes"
	HTTPErrorsName       = "http_errors_total"
)

// HTTPRequest describes one completed request. Endpoint must be a route
// pattern, never a raw path.
type HTTPRequest struct {
	Method        string
	Endpoint      string
	Status        int
	Duration      time.Duration
	RequestBytes  int64
	ResponseBytes int64
}

// RecordHTTPRequest emits the request counter, latency and sizes, plus an error
// counter for any 4xx or 5xx status.
func RecordHTTPRequest(req HTTPRequest) {
	status := strconv.Itoa(req.Status)
	tags := labels{"method": req.Method, "endpoint": req.Endpoint, "status": status}
	counter(HTTPRequestsName, tags)
	histogram(HTTPDurationName, req.Duration, tags)

	sizeTags := labels{"method": req.Method, "endpoint": req.Endpoint}
	gauge(HTTPRequestSizeName, float64(req.RequestBytes), sizeTags)
	gauge(HTTPResponseSizeName, float64(req.ResponseBytes), sizeTags)

	if req.Status >= http.StatusBadRequest {
		counter(HTTPErrorsName, labels{
			"method":     req.Method,
			"endpoint":   req.Endpoint,
			"status":     status,
			"error_type": HTTPErrorType(req.Status),
		})
	}
}

// HTTPErrorType buckets an error status: rate_limited, client_error or server_error.
func HTTPErrorType(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "client_error"
	}
}
