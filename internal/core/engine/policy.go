package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fairwayhq/fairway/internal/core"
)

// ErrUnknownPolicy is returned when a policy name is not registered.
var ErrUnknownPolicy = errors.New("unknown rate limit policy")

// PolicyError describes an invalid policy definition.
type PolicyError struct {
	Policy  string
	Field   string
	Message string
}

func (e *PolicyError) Error() string {
	if e.Policy == "" {
		return fmt.Sprintf("invalid policy: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid policy %q: %s: %s", e.Policy, e.Field, e.Message)
}

// Policy names shipped with the default configuration.
const (
	PolicyGlobal  = "global"
	PolicyAuth    = "auth"
	PolicyUpload  = "upload"
	PolicyBilling = "billing"
	PolicyBets    = "bets"
)

// DefaultPolicies is the policy set used when configuration supplies none.
var DefaultPolicies = []core.Policy{
	{Name: PolicyGlobal, Window: time.Minute, Max: 120, KeyRule: core.KeyRulePrincipal},
	{Name: PolicyAuth, Window: 15 * time.Minute, Max: 10, KeyRule: core.KeyRuleOrigin},
	{Name: PolicyUpload, Window: time.Hour, Max: 30, KeyRule: core.KeyRulePrincipal},
	{Name: PolicyBilling, Window: time.Hour, Max: 20, KeyRule: core.KeyRulePrincipal},
	{Name: PolicyBets, Window: time.Minute, Max: 30, KeyRule: core.KeyRulePrincipal},
}

// PolicyRegistry is an immutable, validated set of named policies.
type PolicyRegistry struct {
	policies map[string]core.Policy
	names    []string
}

// NewPolicyRegistry validates policies and returns a registry holding copies of them.
func NewPolicyRegistry(policies ...core.Policy) (*PolicyRegistry, error) {
	if len(policies) == 0 {
		return nil, &PolicyError{Field: "policies", Message: "at least one policy is required"}
	}

	reg := &PolicyRegistry{
		policies: make(map[string]core.Policy, len(policies)),
		names:    make([]string, 0, len(policies)),
	}

	for _, p := range policies {
		p.Name = strings.TrimSpace(p.Name)
		if p.KeyRule == "" {
			p.KeyRule = core.KeyRulePrincipal
		}
		if err := validatePolicy(p); err != nil {
			return nil, err
		}
		if _, exists := reg.policies[p.Name]; exists {
			return nil, &PolicyError{Policy: p.Name, Field: "name", Message: "duplicate policy name"}
		}
		reg.policies[p.Name] = p
		reg.names = append(reg.names, p.Name)
	}
	sort.Strings(reg.names)

	return reg, nil
}

func validatePolicy(p core.Policy) error {
	switch {
	case p.Name == "":
		return &PolicyError{Field: "name", Message: "must not be empty"}
	case p.Window <= 0:
		return &PolicyError{Policy: p.Name, Field: "window", Message: "must be positive"}
	case p.Window%time.Second != 0:
		return &PolicyError{Policy: p.Name, Field: "window", Message: "must be a whole number of seconds"}
	case p.Max <= 0:
		return &PolicyError{Policy: p.Name, Field: "max", Message: "must be positive"}
	case !p.KeyRule.Valid():
		return &PolicyError{Policy: p.Name, Field: "key_rule", Message: fmt.Sprintf("unsupported rule %q", p.KeyRule)}
	}
	return nil
}

// Lookup returns the policy registered under name.
func (r *PolicyRegistry) Lookup(name string) (core.Policy, bool) {
	if r == nil {
		return core.Policy{}, false
	}
	p, ok := r.policies[name]
	return p, ok
}

// Require returns an error wrapping ErrUnknownPolicy for the first name not registered.
func (r *PolicyRegistry) Require(names ...string) error {
	for _, name := range names {
		if _, ok := r.Lookup(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
		}
	}
	return nil
}

// Names returns registered policy names in sorted order.
func (r *PolicyRegistry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Policies returns registered policies sorted by name.
func (r *PolicyRegistry) Policies() []core.Policy {
	if r == nil {
		return nil
	}
	out := make([]core.Policy, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.policies[name])
	}
	return out
}
