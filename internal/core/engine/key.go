package engine

import (
	"net"
	"strings"

	"github.com/fairwayhq/fairway/internal/core"
)

// Key prefixes and the origin used when nothing identifies the caller.
const (
	UserKeyPrefix   = "user:"
	OriginKeyPrefix = "ip:"
	UnknownOrigin   = "unknown"
)

// KeyDeriver maps a request identity to the key a policy counts against.
type KeyDeriver struct {
	// TrustForwarded enables reading the first hop of the forwarded-address chain.
	TrustForwarded bool
}

// Derive applies rule to id. Identical inputs always produce identical keys.
func (d KeyDeriver) Derive(id core.RequestIdentity, rule core.KeyRule) string {
	if rule != core.KeyRuleOrigin {
		if principal := strings.TrimSpace(id.PrincipalID); principal != "" {
			return UserKeyPrefix + principal
		}
	}
	return OriginKeyPrefix + d.Origin(id)
}

// Origin resolves the network origin: forwarded chain head, then peer, then UnknownOrigin.
func (d KeyDeriver) Origin(id core.RequestIdentity) string {
	if d.TrustForwarded {
		if first, _, _ := strings.Cut(id.ForwardedFor, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}

	peer := strings.TrimSpace(id.PeerAddr)
	if peer == "" {
		return UnknownOrigin
	}
	if host, _, err := net.SplitHostPort(peer); err == nil && host != "" {
		return host
	}
	return peer
}
