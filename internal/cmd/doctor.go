package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fairwayhq/fairway/internal/config"
	"github.com/fairwayhq/fairway/internal/core/engine"
	"github.com/fairwayhq/fairway/internal/core/store"
	errwrap "github.com/fairwayhq/fairway/internal/errors"
	"github.com/fairwayhq/fairway/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		banner := "doctor"
		if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
			banner = identity.BinaryName + " doctor"
		}
		log.Info("=== " + banner + " ===")
		log.Info("")
		log.Info("Running diagnostic checks...")
		log.Info("")

		env := &doctorEnv{ctx: cmd.Context()}
		env.cfg, env.cfgErr = loadConfig()

		passed := runDiagnostics(log, env, []diagnostic{
			{"Go runtime", checkRuntime},
			{"Gofulmen/Crucible", checkCrucible},
			{"config file", checkConfigFile},
			{"configuration", checkConfiguration},
			{"denial store", checkDenialStore},
			{"admin endpoints", checkAdmin},
		})

		log.Info("")
		if passed {
			log.Info("✅ All checks passed!")
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("")
		log.Info("=== End Diagnostics ===")
	},
}

// doctorEnv is the state shared by diagnostics.
type doctorEnv struct {
	ctx    context.Context
	cfg    *config.Config
	cfgErr error
}

type checkLevel int

const (
	checkOK checkLevel = iota
	checkInfo
	checkWarn
	checkFail
)

// checkResult is one diagnostic outcome. Fields are attached to the log line.
type checkResult struct {
	level  checkLevel
	detail string
	fields []zap.Field
}

type diagnostic struct {
	name string
	run  func(*doctorEnv) checkResult
}

// runDiagnostics logs each result as "[i/n] Checking <name>... <detail>" and
// reports whether none failed.
func runDiagnostics(log *logging.Logger, env *doctorEnv, checks []diagnostic) bool {
	passed := true
	for i, check := range checks {
		res := check.run(env)
		line := fmt.Sprintf("[%d/%d] Checking %s... ", i+1, len(checks), check.name)
		switch res.level {
		case checkOK:
			log.Info(line+"✅ "+res.detail, res.fields...)
		case checkInfo:
			log.Info(line+res.detail, res.fields...)
		case checkWarn:
			log.Warn(line+"⚠️  "+res.detail, res.fields...)
		case checkFail:
			log.Error(line+"❌ "+res.detail, res.fields...)
			passed = false
		}
	}
	return passed
}

func checkRuntime(*doctorEnv) checkResult {
	return checkResult{
		detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
		fields: []zap.Field{zap.String("go_version", runtime.Version())},
	}
}

func checkCrucible(*doctorEnv) checkResult {
	version := crucible.GetVersion()
	if version.Crucible == "" || version.Gofulmen == "" {
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewServiceUnavailableError("Crucible metadata unavailable"))
	}
	return checkResult{detail: fmt.Sprintf("v%s / v%s", version.Gofulmen, version.Crucible)}
}

func checkConfigFile(*doctorEnv) checkResult {
	path := config.DefaultConfigPath()
	if path == "" {
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve config directory",
			errwrap.NewInternalError("config directory not resolved"))
	}
	fields := []zap.Field{zap.String("config_path", path)}
	if !fileExists(path) {
		return checkResult{level: checkWarn, detail: "missing " + path, fields: fields}
	}
	return checkResult{detail: path, fields: fields}
}

func checkConfiguration(env *doctorEnv) checkResult {
	switch {
	case env.cfgErr != nil:
		return checkResult{level: checkFail, detail: "invalid", fields: []zap.Field{zap.Error(env.cfgErr)}}
	case !env.cfg.RateLimit.Enabled:
		return checkResult{level: checkWarn, detail: "valid, rate limiting disabled"}
	}
	registry, err := env.cfg.PolicyRegistry()
	if err != nil {
		return checkResult{level: checkFail, detail: "invalid policies", fields: []zap.Field{zap.Error(err)}}
	}
	return checkResult{
		detail: fmt.Sprintf("%d policies, global=%q", len(registry.Names()), env.cfg.RateLimit.GlobalPolicy),
		fields: []zap.Field{zap.Strings("policies", registry.Names())},
	}
}

func checkDenialStore(env *doctorEnv) checkResult {
	if env.cfgErr != nil {
		return checkResult{level: checkWarn, detail: "skipped (config not loaded)"}
	}
	db, err := openStoreWith(env.ctx, env.cfg.Store)
	if err != nil {
		return checkResult{level: checkFail, detail: "cannot open", fields: []zap.Field{zap.Error(err)}}
	}
	defer func() { _ = db.Close() }()

	count, err := db.CountDenials(env.ctx, store.DenialQuery{All: true})
	if err != nil {
		return checkResult{level: checkFail, detail: "cannot count denials", fields: []zap.Field{zap.Error(err)}}
	}
	return checkResult{
		detail: fmt.Sprintf("%s (%d denials)", describeStore(env.cfg.Store), count),
		fields: []zap.Field{zap.Int("denials", count)},
	}
}

func checkAdmin(env *doctorEnv) checkResult {
	if env.cfgErr == nil && env.cfg.Admin.Token != "" {
		return checkResult{detail: "enabled"}
	}
	return checkResult{level: checkInfo, detail: "disabled (set FAIRWAY_ADMIN_TOKEN to enable)"}
}

var (
	doctorInitForce      bool
	doctorInitAdminToken string
	doctorResetConfig    bool
	doctorResetData      bool
	doctorResetAll       bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		token := strings.TrimSpace(doctorInitAdminToken)
		switch strings.ToLower(token) {
		case "prompt":
			value, err := promptForValue("Enter admin token (leave blank to disable admin endpoints): ")
			if err != nil {
				return err
			}
			token = value
		case "generate":
			token = uuid.NewString()
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		mode := os.FileMode(0644)
		if token != "" {
			mode = 0600
		}

		content, err := buildInitConfig(token)
		if err != nil {
			return err
		}
		if err := os.WriteFile(configPath, content, mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		configPath := config.DefaultConfigPath()
		dataDir := config.DefaultDataDir()

		log.Info("Configuration:")
		log.Info(fmt.Sprintf("  Config file:    %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir != "" {
			log.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		} else {
			log.Info("  Data directory: (not resolved)")
		}

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return nil
		}
		log.Info("  Database:       " + describeStore(cfg.Store))

		log.Info("")
		log.Info("Environment:")
		log.Info("  FAIRWAY_ADMIN_TOKEN: " + setStatus(os.Getenv("FAIRWAY_ADMIN_TOKEN")))
		log.Info("  FAIRWAY_STORE_AUTH_TOKEN: " + setStatus(os.Getenv("FAIRWAY_STORE_AUTH_TOKEN")))

		log.Info("")
		log.Info("Effective Settings:")
		log.Info(fmt.Sprintf("  rate_limit.enabled: %t", cfg.RateLimit.Enabled))
		log.Info(fmt.Sprintf("  rate_limit.trust_forwarded: %t", cfg.RateLimit.TrustForwarded))
		log.Info(fmt.Sprintf("  rate_limit.journal.enabled: %t", cfg.RateLimit.Journal.Enabled))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			path := config.DefaultConfigPath()
			if path == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := removeFile("Config", path); err != nil {
				return err
			}
		}

		if doctorResetData {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}
			absPath, _ := filepath.Abs(storeFilePath(cfg.Store))
			if err := removeFile("Database", absPath); err != nil {
				return err
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", viperConfigFile()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitAdminToken, "admin-token", "", "admin bearer token, 'generate' for a random one, or 'prompt' to enter")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

type initConfigFile struct {
	Admin     *initAdmin    `yaml:"admin,omitempty"`
	RateLimit initRateLimit `yaml:"rate_limit"`
}

type initAdmin struct {
	Token string `yaml:"token"`
}

type initRateLimit struct {
	Enabled        bool         `yaml:"enabled"`
	TrustForwarded bool         `yaml:"trust_forwarded"`
	GlobalPolicy   string       `yaml:"global_policy"`
	Policies       []initPolicy `yaml:"policies"`
}

type initPolicy struct {
	Name    string `yaml:"name"`
	Window  string `yaml:"window"`
	Max     int    `yaml:"max"`
	KeyRule string `yaml:"key_rule"`
}

// buildInitConfig renders the default policy set as an editable config file.
func buildInitConfig(adminToken string) ([]byte, error) {
	file := initConfigFile{
		RateLimit: initRateLimit{
			Enabled:        true,
			TrustForwarded: true,
			GlobalPolicy:   engine.PolicyGlobal,
		},
	}
	if adminToken != "" {
		file.Admin = &initAdmin{Token: adminToken}
	}
	for _, p := range engine.DefaultPolicies {
		file.RateLimit.Policies = append(file.RateLimit.Policies, initPolicy{
			Name:    p.Name,
			Window:  p.Window.String(),
			Max:     p.Max,
			KeyRule: string(p.KeyRule),
		})
	}

	body, err := yaml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	header := "# fairway config - created by 'fairway doctor init'\n"
	return append([]byte(header), body...), nil
}

func describeStore(cfg config.StoreConfig) string {
	if cfg.URL != "" {
		return cfg.URL + " (remote)"
	}
	absPath, _ := filepath.Abs(storeFilePath(cfg))
	if info, err := os.Stat(absPath); err == nil {
		return fmt.Sprintf("%s (%s)", absPath, formatFileSize(info.Size()))
	}
	return absPath + " (not created yet)"
}

func storeFilePath(cfg config.StoreConfig) string {
	path := strings.TrimPrefix(cfg.Path, "file:")
	if path == "" {
		path = config.DefaultStorePath()
	}
	return path
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// removeFile deletes path; an already missing file is reported, not an error.
func removeFile(label, path string) error {
	err := os.Remove(path)
	switch {
	case err == nil:
		observability.CLILogger.Info(label+" removed", zap.String("path", path))
	case errors.Is(err, fs.ErrNotExist):
		observability.CLILogger.Info(label+" already removed", zap.String("path", path))
	default:
		return fmt.Errorf("remove %s: %w", strings.ToLower(label), err)
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}
