// Package cmd holds the fairway command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/appid"
	"github.com/fairwayhq/fairway/internal/config"
	"github.com/fairwayhq/fairway/internal/observability"
)

const rootLongTail = "Use the subcommands to run the server or inspect policies and denials."

var (
	cfgFile string
	verbose bool

	appIdentity *appidentity.Identity

	// set from main via SetVersionInfo
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo records the build metadata injected into main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity loaded during initConfig.
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

var rootCmd = &cobra.Command{
	Use:          filepath.Base(os.Args[0]),
	Short:        "Request admission control for the fairway betting API",
	Long:         "fairway guards the betting API with named fixed-window rate limit policies.\n\n" + rootLongTail,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Config loading must not print metrics; serve installs the real system.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		applyIdentityToHelp(identity)
	}

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional; defaults to app identity config path)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
}

func applyIdentityToHelp(identity *appidentity.Identity) {
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf("%s - %s\n\n%s", identity.BinaryName, identity.Description, rootLongTail)
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}

// initConfig resolves identity, logging and the viper search path before any
// command runs.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitFileNotFound, "Failed to load app identity from .fulmen/app.yaml", err)
	}
	appIdentity = identity
	applyIdentityToHelp(identity)
	config.SetAppIdentity(identity)
	observability.InitCLILogger(identity.BinaryName, verbose)

	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		addSearchPaths(v, identity.ConfigName)
	}

	// FAIRWAY_RATE_LIMIT_TRUST_FORWARDED -> rate_limit.trust_forwarded
	v.SetEnvPrefix(appid.ViperEnvPrefix(identity))
	v.SetEnvKeyReplacer(config.EnvKeyReplacer())
	v.AutomaticEnv()
	config.SetDefaults(v)

	readConfigFile(v)
}

// addSearchPaths looks for config.yaml in the XDG app directory, then
// ./config. Without an XDG directory it falls back to ~/.<name>.yaml.
func addSearchPaths(v *viper.Viper, configName string) {
	log := observability.CLILogger
	if dir := gfconfig.GetAppConfigDir(configName); dir != "" {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
	} else {
		if verbose {
			log.Warn("Could not resolve XDG config directory, falling back to home directory")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			ExitWithCode(log, foundry.ExitFileNotFound, "Could not find home directory", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName("." + configName)
	}
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")
}

// readConfigFile loads the config file if one exists. A missing file is not
// an error; defaults and environment still apply.
func readConfigFile(v *viper.Viper) {
	err := v.ReadInConfig()
	if !verbose {
		return
	}
	log := observability.CLILogger
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		log.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	case errors.As(err, &notFound):
		log.Debug("No config file found, using defaults and environment variables")
	default:
		log.Warn("Error reading config file", zap.Error(err))
	}
}

// loadConfig decodes and validates the settings collected by initConfig.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func viperConfigFile() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "(none; defaults and environment only)"
}
