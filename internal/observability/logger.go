package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used for CLI commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used for HTTP server (STRUCTURED profile)
	ServerLogger *logging.Logger

	serverService   string
	serverNamespace string
)

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal("initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitServerLogger initializes the server logger with the STRUCTURED profile.
// namespace, when given, is attached to every entry as a static field.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	ns := ""
	if len(namespace) > 0 {
		ns = namespace[0]
	}

	logger, err := logging.New(serverLoggerConfig(serviceName, logLevel, ns))
	if err != nil {
		fatal("initialize server logger", err)
	}

	serverService = serviceName
	serverNamespace = ns
	ServerLogger = logger
}

// serverLoggerConfig builds the JSON-to-stderr config used by serve.
func serverLoggerConfig(serviceName, logLevel, namespace string) *logging.LoggerConfig {
	staticFields := map[string]any{}
	if namespace != "" {
		staticFields["namespace"] = namespace
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{Type: "console", Format: "json", Console: &logging.ConsoleSinkConfig{Stream: "stderr"}},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// ReloadServerLogger rebuilds the server logger at a new level, e.g. on SIGHUP.
func ReloadServerLogger(logLevel string) error {
	if ServerLogger == nil {
		return errors.New("server logger not initialized")
	}

	logger, err := logging.New(serverLoggerConfig(serverService, logLevel, serverNamespace))
	if err != nil {
		return fmt.Errorf("rebuild server logger: %w", err)
	}
	_ = ServerLogger.Sync()
	ServerLogger = logger
	return nil
}

// SyncLoggers flushes both loggers. Sync errors on closed stdio are ignored.
func SyncLoggers() error {
	var errs []error
	for _, logger := range []*logging.Logger{ServerLogger, CLILogger} {
		if logger == nil {
			continue
		}
		if err := logger.Sync(); err != nil && !isBenignSyncError(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isBenignSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

var logLevels = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// parseLogLevel maps config level names onto gofulmen severities, defaulting to INFO.
func parseLogLevel(level string) string {
	if mapped, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return mapped
	}
	return "INFO"
}

// fatal reports a logger bootstrap failure. No logger exists yet, so stderr is the only sink.
func fatal(msg string, err error) {
	code := int(foundry.ExitConfigInvalid)
	if info, ok := foundry.GetExitCodeInfo(foundry.ExitConfigInvalid); ok {
		code = info.Code
	}
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code %d)\n", msg, err, code)
	os.Exit(code)
}
