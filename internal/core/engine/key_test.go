package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairwayhq/fairway/internal/core"
)

func TestKeyDeriverDerive(t *testing.T) {
	cases := []struct {
		name    string
		trust   bool
		id      core.RequestIdentity
		rule    core.KeyRule
		wantKey string
	}{
		{
			name:    "principal wins",
			trust:   true,
			id:      core.RequestIdentity{PrincipalID: "42", ForwardedFor: "198.51.100.1", PeerAddr: "10.0.0.1:1234"},
			rule:    core.KeyRulePrincipal,
			wantKey: "user:42",
		},
		{
			name:    "origin rule ignores principal",
			trust:   true,
			id:      core.RequestIdentity{PrincipalID: "42", PeerAddr: "10.0.0.1:1234"},
			rule:    core.KeyRuleOrigin,
			wantKey: "ip:10.0.0.1",
		},
		{
			name:    "forwarded head",
			trust:   true,
			id:      core.RequestIdentity{ForwardedFor: " 203.0.113.7 , 10.1.1.1, 10.2.2.2", PeerAddr: "10.0.0.1:1234"},
			rule:    core.KeyRulePrincipal,
			wantKey: "ip:203.0.113.7",
		},
		{
			name:    "forwarded ignored when untrusted",
			trust:   false,
			id:      core.RequestIdentity{ForwardedFor: "203.0.113.7", PeerAddr: "10.0.0.1:1234"},
			rule:    core.KeyRuleOrigin,
			wantKey: "ip:10.0.0.1",
		},
		{
			name:    "empty forwarded head falls back to peer",
			trust:   true,
			id:      core.RequestIdentity{ForwardedFor: " , 10.1.1.1", PeerAddr: "[2001:db8::1]:443"},
			rule:    core.KeyRuleOrigin,
			wantKey: "ip:2001:db8::1",
		},
		{
			name:    "peer without port",
			trust:   true,
			id:      core.RequestIdentity{PeerAddr: "192.0.2.10"},
			rule:    core.KeyRuleOrigin,
			wantKey: "ip:192.0.2.10",
		},
		{
			name:    "nothing known",
			trust:   true,
			id:      core.RequestIdentity{PrincipalID: "   "},
			rule:    core.KeyRulePrincipal,
			wantKey: "ip:unknown",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := KeyDeriver{TrustForwarded: tc.trust}
			assert.Equal(t, tc.wantKey, d.Derive(tc.id, tc.rule))
			assert.Equal(t, d.Derive(tc.id, tc.rule), d.Derive(tc.id, tc.rule))
		})
	}
}
