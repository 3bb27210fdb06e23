// Package appidentityassets embeds the identity file for standalone binaries.
package appidentityassets

import _ "embed"

// YAML mirrors .fulmen/app.yaml at the repository root.
//
//go:embed app.yaml
var YAML []byte
