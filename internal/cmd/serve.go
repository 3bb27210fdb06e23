package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/config"
	"github.com/fairwayhq/fairway/internal/core/engine"
	"github.com/fairwayhq/fairway/internal/core/store"
	errwrap "github.com/fairwayhq/fairway/internal/errors"
	"github.com/fairwayhq/fairway/internal/metrics"
	"github.com/fairwayhq/fairway/internal/observability"
	"github.com/fairwayhq/fairway/internal/server"
	"github.com/fairwayhq/fairway/internal/server/handlers"
	servermw "github.com/fairwayhq/fairway/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// storeHealthChecker pings the denial journal database
type storeHealthChecker struct {
	store *store.Store
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if s.store == nil || s.store.DB == nil {
		return errwrap.NewDatabaseError("denial store not open")
	}
	if err := s.store.DB.PingContext(ctx); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "denial store ping failed")
	}
	return nil
}

// admission bundles the rate limiting components serve owns.
type admission struct {
	limiter *engine.RateLimiter
	store   *store.Store
	journal *store.Journal
}

// recorder returns the journal as a DenialRecorder, or nil when disabled.
func (a *admission) recorder() servermw.DenialRecorder {
	if a == nil || a.journal == nil {
		return nil
	}
	return a.journal
}

// newAdmission builds the limiter from cfg and, when the journal is enabled,
// opens the store and starts the journal writer. The reaper is started on ctx.
func newAdmission(ctx context.Context, cfg *config.Config) (*admission, error) {
	if !cfg.RateLimit.Enabled {
		return &admission{}, nil
	}

	registry, err := cfg.PolicyRegistry()
	if err != nil {
		return nil, errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "invalid rate limit policies")
	}

	limiter := engine.NewRateLimiter(registry)
	limiter.Keys.TrustForwarded = cfg.RateLimit.TrustForwarded

	a := &admission{limiter: limiter}

	if cfg.RateLimit.Journal.Enabled {
		db, err := openStoreWith(ctx, cfg.Store)
		if err != nil {
			return nil, errwrap.Wrap(ctx, errwrap.CodeDatabase, err, "denial store unavailable")
		}
		a.store = db
		a.journal = store.NewJournal(db, cfg.RateLimit.Journal.Buffer)
	}

	if err := limiter.Start(ctx, cfg.RateLimit.ReapInterval); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

// close stops the reaper, flushes the journal and closes the store, in that order.
func (a *admission) close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.limiter != nil {
		errs = append(errs, a.limiter.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with rate limiting and graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config (log level applies immediately; policy changes need a restart)

On shutdown the server stops accepting requests, the reaper stops, pending
denials are written to the journal, and logs are flushed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		logLevel := cfg.Logging.Level
		if verbose {
			logLevel = "debug"
		}
		observability.InitServerLogger(identity.BinaryName, logLevel, namespace)

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = observability.DefaultMetricsPort
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Bool("rate_limit", cfg.RateLimit.Enabled))

		handlers.InitHealthManager(versionInfo.Version)
		handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
		handlers.SetAppIdentity(identity)
		hm := handlers.GetHealthManager()
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})

		adm, err := newAdmission(ctx, cfg)
		if err != nil {
			observability.ServerLogger.Error("Failed to initialize rate limiting", zap.Error(err))
			return err
		}
		if adm.store != nil {
			hm.RegisterChecker("denial_store", storeHealthChecker{store: adm.store})
		}
		if adm.limiter != nil {
			observability.ServerLogger.Info("Rate limiting enabled",
				zap.Strings("policies", adm.limiter.Registry.Names()),
				zap.String("global_policy", cfg.RateLimit.GlobalPolicy),
				zap.Bool("trust_forwarded", cfg.RateLimit.TrustForwarded),
				zap.Bool("journal", adm.journal != nil))
		}

		srv, err := server.New(cfg.Server.Host, cfg.Server.Port, server.Options{
			Limiter:         adm.limiter,
			GlobalPolicy:    cfg.RateLimit.GlobalPolicy,
			Recorder:        adm.recorder(),
			PrincipalHeader: cfg.RateLimit.PrincipalHeader,
			AdminToken:      cfg.Admin.Token,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
		})
		if err != nil {
			_ = adm.close(ctx)
			return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "server configuration invalid")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.SyncLoggers(); err != nil {
				observability.ServerLogger.Warn("Logger sync returned error", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Stop the Prometheus exporter
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.ShutdownMetrics(); err != nil {
				observability.ServerLogger.Warn("Metrics exporter shutdown failed", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Stop reaper, drain journal, close store
		signals.OnShutdown(func(ctx context.Context) error {
			closeCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			dropped := adm.journal.Dropped()
			if err := adm.close(closeCtx); err != nil {
				observability.ServerLogger.Warn("Rate limiting shutdown incomplete", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "rate limiting shutdown failed")
			}
			observability.ServerLogger.Info("Rate limiting stopped",
				zap.Int64("journal_written", adm.journal.Written()),
				zap.Int64("journal_dropped", dropped))
			return nil
		})

		// Handler 4: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			return reloadConfig(ctx, cfg)
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now().Unix())

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			_ = adm.close(context.Background())
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// reloadConfig rereads the config file on SIGHUP. The log level is applied in
// place; rate limit settings are reported but only take effect on restart.
func reloadConfig(ctx context.Context, running *config.Config) error {
	observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			observability.ServerLogger.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
		}
	}

	next, err := config.Load(viper.GetViper())
	if err != nil {
		observability.ServerLogger.Error("Reloaded config is invalid; keeping running config", zap.Error(err))
		return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
	}

	if next.Logging.Level != running.Logging.Level && !verbose {
		if err := observability.ReloadServerLogger(next.Logging.Level); err != nil {
			observability.ServerLogger.Warn("Failed to apply log level", zap.Error(err))
		} else {
			running.Logging.Level = next.Logging.Level
		}
	}

	if rateLimitChanged(running.RateLimit, next.RateLimit) {
		observability.ServerLogger.Warn("Rate limit configuration changed; restart to apply")
	}

	observability.ServerLogger.Info("Configuration reloaded",
		zap.String("file", viper.ConfigFileUsed()),
		zap.String("log_level", running.Logging.Level))
	return nil
}

func rateLimitChanged(a, b config.RateLimitConfig) bool {
	if a.Enabled != b.Enabled || a.GlobalPolicy != b.GlobalPolicy ||
		a.TrustForwarded != b.TrustForwarded || a.PrincipalHeader != b.PrincipalHeader ||
		a.ReapInterval != b.ReapInterval || a.Journal != b.Journal {
		return true
	}
	if len(a.Policies) != len(b.Policies) {
		return true
	}
	for i := range a.Policies {
		if a.Policies[i] != b.Policies[i] {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
