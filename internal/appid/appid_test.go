package appid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appidentityassets "github.com/fairwayhq/fairway/internal/assets/appidentity"
)

// resetIdentity clears the process-wide identity cache and re-registers the
// embedded YAML for the duration of t.
func resetIdentity(t *testing.T) {
	t.Helper()
	appidentity.Reset()
	require.NoError(t, appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML))
	t.Cleanup(appidentity.Reset)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestGetFallsBackToEmbeddedIdentity(t *testing.T) {
	resetIdentity(t)
	t.Setenv(appidentity.EnvIdentityPath, "")
	chdir(t, t.TempDir())

	identity, err := Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fairway", identity.BinaryName)
	assert.Equal(t, "FAIRWAY_", identity.EnvPrefix)
	assert.Equal(t, "fairway", identity.ConfigName)
}

func TestGetHonoursIdentityPathEnv(t *testing.T) {
	resetIdentity(t)
	t.Setenv(appidentity.EnvIdentityPath, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Get(context.Background())
	var notFound *appidentity.NotFoundError
	assert.True(t, errors.As(err, &notFound), "got %T: %v", err, err)
}

func TestViperEnvPrefix(t *testing.T) {
	assert.Equal(t, "FAIRWAY", ViperEnvPrefix(&appidentity.Identity{EnvPrefix: "FAIRWAY_"}))
	assert.Equal(t, "", ViperEnvPrefix(nil))
}
