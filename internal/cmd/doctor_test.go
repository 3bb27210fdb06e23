package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwayhq/fairway/internal/config"
	"github.com/fairwayhq/fairway/internal/core/engine"
	"github.com/fairwayhq/fairway/internal/observability"
)

func TestBuildInitConfigRoundTrips(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	content, err := buildInitConfig("tok-123")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("# fairway config")))

	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(content)))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Admin.Token)

	registry, err := cfg.PolicyRegistry()
	require.NoError(t, err)
	assert.Equal(t, len(engine.DefaultPolicies), len(registry.Names()))
	auth, ok := registry.Lookup(engine.PolicyAuth)
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, auth.Window)
}

func TestBuildInitConfigWithoutToken(t *testing.T) {
	content, err := buildInitConfig("")
	require.NoError(t, err)
	assert.NotContains(t, string(content), "admin:")
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 bytes", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "2.0 MB", formatFileSize(2*1024*1024))
}

func TestDoctorDiagnostics(t *testing.T) {
	observability.InitCLILogger("fairway-test", false)

	cfg := &config.Config{}
	cfg.RateLimit.Enabled = false
	assert.Equal(t, checkWarn, checkConfiguration(&doctorEnv{cfg: cfg}).level)
	assert.Equal(t, checkFail, checkConfiguration(&doctorEnv{cfgErr: errors.New("bad yaml")}).level)
	assert.Equal(t, checkWarn, checkDenialStore(&doctorEnv{cfgErr: errors.New("bad yaml")}).level)

	cfg.Admin.Token = "secret"
	assert.Equal(t, checkOK, checkAdmin(&doctorEnv{cfg: cfg}).level)
	assert.Equal(t, checkInfo, checkAdmin(&doctorEnv{cfgErr: errors.New("bad yaml")}).level)

	passed := runDiagnostics(observability.CLILogger, &doctorEnv{}, []diagnostic{
		{"ok", func(*doctorEnv) checkResult { return checkResult{detail: "fine"} }},
		{"warn", func(*doctorEnv) checkResult { return checkResult{level: checkWarn} }},
	})
	assert.True(t, passed)

	passed = runDiagnostics(observability.CLILogger, &doctorEnv{}, []diagnostic{
		{"broken", func(*doctorEnv) checkResult { return checkResult{level: checkFail} }},
	})
	assert.False(t, passed)
}

func TestRemoveFile(t *testing.T) {
	observability.InitCLILogger("fairway-test", false)
	path := filepath.Join(t.TempDir(), "fairway.db")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	require.NoError(t, removeFile("Database", path))
	assert.False(t, fileExists(path))
	require.NoError(t, removeFile("Database", path), "missing file is not an error")
}
