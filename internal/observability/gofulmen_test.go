package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger creation", func(t *testing.T) {
		InitCLILogger("fairway-test", true)
		require.NotNil(t, CLILogger)
		CLILogger.Debug("Test CLI log message", zap.String("test", "value"))
	})

	t.Run("Structured logger creation", func(t *testing.T) {
		InitServerLogger("fairway-test", "debug", "fairway")
		require.NotNil(t, ServerLogger)
		ServerLogger.Info("Rate limit decision",
			zap.String("policy", "bets"),
			zap.Bool("allowed", true))
	})

	t.Run("Reload rebuilds server logger", func(t *testing.T) {
		InitServerLogger("fairway-test", "info")
		before := ServerLogger
		require.NoError(t, ReloadServerLogger("warn"))
		assert.NotSame(t, before, ServerLogger)
	})

	t.Run("Sync loggers", func(t *testing.T) {
		assert.NoError(t, SyncLoggers())
	})
}

func TestReloadServerLoggerRequiresInit(t *testing.T) {
	saved := ServerLogger
	t.Cleanup(func() { ServerLogger = saved })

	ServerLogger = nil
	assert.Error(t, ReloadServerLogger("info"))
}

func TestServerLoggerConfig(t *testing.T) {
	cfg := serverLoggerConfig("fairway", "warn", "fairway_api")
	assert.Equal(t, logging.ProfileStructured, cfg.Profile)
	assert.Equal(t, "WARN", cfg.DefaultLevel)
	assert.Equal(t, "fairway_api", cfg.StaticFields["namespace"])
	require.Len(t, cfg.Middleware, 1)
	assert.Equal(t, "correlation", cfg.Middleware[0].Name)

	logger, err := logging.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.Empty(t, serverLoggerConfig("fairway", "info", "").StaticFields)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"trace":   "TRACE",
		"debug":   "DEBUG",
		" INFO ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"loud":    "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestMetricsLifecycle(t *testing.T) {
	require.NoError(t, InitMetrics("fairway-test", 0, "fairway_test"))
	t.Cleanup(func() { _ = ShutdownMetrics() })

	require.NotNil(t, TelemetrySystem)
	require.NotNil(t, PrometheusExporter)
	assert.Positive(t, GetMetricsPort())

	require.NoError(t, ShutdownMetrics())
	assert.Nil(t, TelemetrySystem)
	assert.Nil(t, PrometheusExporter)
	assert.NoError(t, ShutdownMetrics())
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9191")
	require.NoError(t, err)
	assert.Equal(t, 9191, port)

	_, err = resolvePort("no-port")
	assert.Error(t, err)
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
	assert.NotEmpty(t, crucible.GetVersionString())
}
