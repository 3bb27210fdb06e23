package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/config"
	errwrap "github.com/fairwayhq/fairway/internal/errors"
	"github.com/fairwayhq/fairway/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the server could start with the current configuration.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		if log == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		log.Info("Running health check...")

		for _, step := range selfChecks(cmd.Context(), &selfCheckState{}) {
			ok, err := step.run()
			if err != nil {
				log.Error("❌ FAIL: " + step.failure)
				ExitWithCode(log, step.exitCode, step.failure, err)
				return
			}
			if ok {
				log.Info("✅ " + step.success)
			} else {
				log.Warn("⚠️  " + step.skipped)
			}
		}

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

// selfCheck is one fail-fast step of the health command. run reports false
// when the step does not apply.
type selfCheck struct {
	success  string
	skipped  string
	failure  string
	exitCode foundry.ExitCode
	run      func() (bool, error)
}

type selfCheckState struct {
	cfg *config.Config
}

func selfChecks(ctx context.Context, st *selfCheckState) []selfCheck {
	return []selfCheck{
		{
			success:  "Version information available",
			failure:  "Version information missing",
			exitCode: foundry.ExitConfigInvalid,
			run: func() (bool, error) {
				if versionInfo.Version == "" {
					return false, errwrap.NewConfigInvalidError("Version information missing")
				}
				observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
				return true, nil
			},
		},
		{
			success:  "Configuration valid",
			failure:  "Configuration invalid",
			exitCode: foundry.ExitConfigInvalid,
			run: func() (bool, error) {
				cfg, err := loadConfig()
				if err != nil {
					return false, errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "configuration invalid")
				}
				st.cfg = cfg
				return true, nil
			},
		},
		{
			success:  "Rate limit policies valid",
			skipped:  "Rate limiting disabled",
			failure:  "Rate limit policies invalid",
			exitCode: foundry.ExitConfigInvalid,
			run: func() (bool, error) {
				if !st.cfg.RateLimit.Enabled {
					return false, nil
				}
				registry, err := st.cfg.PolicyRegistry()
				if err != nil {
					return false, err
				}
				observability.CLILogger.Debug("Policies loaded", zap.Strings("policies", registry.Names()))
				return true, nil
			},
		},
		{
			success:  "Denial store reachable",
			skipped:  "Denial journal disabled",
			failure:  "Denial store unavailable",
			exitCode: foundry.ExitExternalServiceUnavailable,
			run: func() (bool, error) {
				if !st.cfg.RateLimit.Enabled || !st.cfg.RateLimit.Journal.Enabled {
					return false, nil
				}
				db, err := openStoreWith(ctx, st.cfg.Store)
				if err != nil {
					return false, err
				}
				return true, db.Close()
			},
		},
	}
}
