package core

import (
	"fmt"
	"math"
	"time"
)

// Error codes shared by the HTTP error helpers and the rate limit middleware
const (
	// ErrorCodeRateLimited is returned to callers that exceed a policy.
	ErrorCodeRateLimited = "RATE_LIMITED"
	// ErrorCodeRateLimitPolicy is returned when a guard names an unregistered policy.
	ErrorCodeRateLimitPolicy = "RATE_LIMIT_POLICY_ERROR"
)

// KeyRule selects which part of a request identity a policy is scoped to.
type KeyRule string

const (
	// KeyRulePrincipal scopes to the authenticated principal, falling back to origin.
	KeyRulePrincipal KeyRule = "principal"
	// KeyRuleOrigin always scopes to the network origin.
	KeyRuleOrigin KeyRule = "origin"
)

// Valid reports whether the rule is a known key rule.
func (k KeyRule) Valid() bool {
	switch k {
	case KeyRulePrincipal, KeyRuleOrigin:
		return true
	default:
		return false
	}
}

// Policy is a named admission policy: at most Max requests per Window.
type Policy struct {
	Name    string        `json:"name" yaml:"name"`
	Window  time.Duration `json:"window" yaml:"window"`
	Max     int           `json:"max" yaml:"max"`
	KeyRule KeyRule       `json:"key_rule" yaml:"key_rule"`
}

// CounterEntry is the per-key state of a policy window.
type CounterEntry struct {
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Expired reports whether the window ending at ResetAt has elapsed at now.
func (e CounterEntry) Expired(now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// Decision is the outcome of accounting one request against a policy.
type Decision struct {
	Policy    string    `json:"policy"`
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Limit     int       `json:"limit"`

	// FirstDenial is set on the single denial that pushed the count to Max+1.
	FirstDenial bool `json:"first_denial,omitempty"`
}

// RetryAfterSeconds returns the whole seconds, rounded up, until the window resets.
func (d Decision) RetryAfterSeconds(now time.Time) int {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

// RateLimitedMessage is the caller-facing message for a denied request.
func RateLimitedMessage(retryAfterSeconds int) string {
	return fmt.Sprintf("Rate limit exceeded, retry after %d seconds", retryAfterSeconds)
}

// RequestIdentity is what the transport and auth layers know about a caller.
type RequestIdentity struct {
	PrincipalID  string
	ForwardedFor string
	PeerAddr     string
}

// DenialEvent records the first rejected request of a key within one window.
type DenialEvent struct {
	Policy        string    `json:"policy"`
	Key           string    `json:"key"`
	Path          string    `json:"path,omitempty"`
	ResetAt       time.Time `json:"reset_at"`
	FirstDeniedAt time.Time `json:"first_denied_at"`
}
