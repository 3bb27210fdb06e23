// Package appid resolves fairway's application identity. The embedded
// .fulmen/app.yaml is registered as a fallback, so a binary copied away from the
// repository still knows its name, config name and env prefix. FULMEN_APP_IDENTITY_PATH
// and an on-disk .fulmen/app.yaml both take precedence over it.
package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/fairwayhq/fairway/internal/assets/appidentity"
)

func init() {
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the process-wide identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// ViperEnvPrefix returns identity's env prefix in the form viper.SetEnvPrefix
// expects: FAIRWAY_ becomes FAIRWAY.
func ViperEnvPrefix(identity *appidentity.Identity) string {
	if identity == nil {
		return ""
	}
	return strings.TrimSuffix(identity.EnvPrefix, "_")
}
