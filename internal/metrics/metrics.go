// Package metrics emits fairway's application metrics through the gofulmen
// telemetry system. Every emitter is a no-op until observability.InitMetrics runs.
package metrics

import (
	"strconv"
	"time"

	"github.com/fairwayhq/fairway/internal/observability"
)

// Service-level metric names
const (
	OperationsName       = "app_operations_total"
	OperationErrorsName  = "app_operations_errors_total"
	HealthChecksName     = "app_health_check_total"
	HealthCheckDurName   = "app_health_check_duration_ms"
	ServerStartTimeName  = "app_server_start_time_seconds"
	ErrorsName           = "errors_total"
	PanicsName           = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

type labels = map[string]string

func counter(name string, tags labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, tags)
	}
}

func gauge(name string, value float64, tags labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, tags)
	}
}

func histogram(name string, d time.Duration, tags labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(name, d, tags)
	}
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordOperation counts a background operation such as a journal write or a prune.
func RecordOperation(operation string, success bool) {
	counter(OperationsName, labels{"operation": operation, "status": outcome(success, "success", "failure")})
}

// RecordOperationError counts a failed operation by error type.
func RecordOperationError(operation, errorType string) {
	counter(OperationErrorsName, labels{"operation": operation, "error_type": errorType})
}

func RecordHealthCheck(check string, healthy bool, took time.Duration) {
	counter(HealthChecksName, labels{"check": check, "status": outcome(healthy, "healthy", "unhealthy")})
	histogram(HealthCheckDurName, took, labels{"check": check})
}

// SetServerStartTime publishes the server start as a Unix timestamp.
func SetServerStartTime(unix int64) {
	gauge(ServerStartTimeName, float64(unix), nil)
}

// RecordError counts an error response by code and HTTP status.
func RecordError(code string, status int) {
	counter(ErrorsName, labels{"error_code": code, "http_status": strconv.Itoa(status)})
}

func RecordPanic() {
	counter(PanicsName, nil)
}

func RecordErrorByEndpoint(endpoint, code string) {
	counter(ErrorsByEndpointName, labels{"endpoint": endpoint, "error_code": code})
}
