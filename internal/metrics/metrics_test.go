package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwayhq/fairway/internal/observability"
)

func withCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestEmittersAreNoopsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordRateLimitDecision("bets", false)
		RecordRateLimitSweep(1, 2)
		RecordJournalDrop("bets")
		RecordOperation("journal_write", true)
		RecordHealthCheck("store", true, time.Millisecond)
		RecordPanic()
	})
}

func TestRateLimitMetrics(t *testing.T) {
	collector := withCollector(t)

	RecordRateLimitDecision("bets", true)
	RecordRateLimitDecision("bets", false)
	RecordRateLimitSweep(3, 7)
	RecordJournalDrop("auth")

	assert.EqualValues(t, 2, collector.CountMetricsByName(RateLimitDecisionsName))
	assert.Greater(t, collector.CountMetricsByName(RateLimitReapedName), 0)
	assert.Greater(t, collector.CountMetricsByName(RateLimitEntriesName), 0)
	assert.EqualValues(t, 1, collector.CountMetricsByName(RateLimitJournalDroppedName))
}

func TestServiceMetrics(t *testing.T) {
	collector := withCollector(t)

	RecordOperation("journal_write", false)
	RecordOperationError("journal_write", "timeout")
	RecordHealthCheck("store", false, 5*time.Millisecond)
	SetServerStartTime(time.Now().Unix())
	RecordError("RATE_LIMITED", 429)
	RecordErrorByEndpoint("/v1/*", "RATE_LIMITED")

	for _, name := range []string{
		OperationsName, OperationErrorsName, HealthChecksName, HealthCheckDurName,
		ServerStartTimeName, ErrorsName, ErrorsByEndpointName,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	collector := withCollector(t)

	RecordHTTPRequest(HTTPRequest{Method: "POST", Endpoint: "/v1/bets", Status: 201, Duration: time.Millisecond})
	assert.EqualValues(t, 0, collector.CountMetricsByName(HTTPErrorsName))

	RecordHTTPRequest(HTTPRequest{Method: "POST", Endpoint: "/v1/bets", Status: 429, Duration: time.Millisecond})
	assert.EqualValues(t, 2, collector.CountMetricsByName(HTTPRequestsName))
	assert.EqualValues(t, 1, collector.CountMetricsByName(HTTPErrorsName))
	assert.Greater(t, collector.CountMetricsByName(HTTPResponseSizeName), 0)
}

func TestHTTPErrorType(t *testing.T) {
	assert.Equal(t, "rate_limited", HTTPErrorType(429))
	assert.Equal(t, "client_error", HTTPErrorType(404))
	assert.Equal(t, "server_error", HTTPErrorType(502))
}
