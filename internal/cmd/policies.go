package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fairwayhq/fairway/internal/output"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Show the effective rate limit policies",
	Long: `Show the rate limit policies the server would enforce with the current
configuration, after defaults, the config file, and environment overrides.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := cfg.PolicyRegistry()
		if err != nil {
			return err
		}

		target, err := openRenderTarget(cmd, "policies")
		if err != nil {
			return err
		}
		defer target.Close() // nolint:errcheck

		rendered, err := output.NewFormatter(target.Format).FormatPolicies(output.NewPolicyViews(registry.Policies(), nil))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(target, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(policiesCmd)
	addOutputFlags(policiesCmd)
}
