package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fairwayhq/fairway/internal/core"
)

// RateLimiter enforces fixed-window policies over a shared WindowStore.
type RateLimiter struct {
	Registry *PolicyRegistry
	Store    *WindowStore
	Keys     KeyDeriver
	Clock    func() time.Time

	mu     sync.Mutex
	reaper *Reaper
}

// Stats summarizes the limiter's store. Entries and Policies count stored
// entries; Active counts only windows still open at the limiter's clock.
type Stats struct {
	Entries  int            `json:"entries"`
	Policies map[string]int `json:"policies"`
	Active   map[string]int `json:"active"`
}

// NewRateLimiter returns a limiter over registry with an empty store.
func NewRateLimiter(registry *PolicyRegistry) *RateLimiter {
	return &RateLimiter{
		Registry: registry,
		Store:    NewWindowStore(DefaultShardCount),
		Keys:     KeyDeriver{TrustForwarded: true},
	}
}

// Check accounts one request for key under the named policy at the current time.
func (r *RateLimiter) Check(policyName, key string) (core.Decision, error) {
	return r.CheckAt(policyName, key, r.Now())
}

// CheckAt accounts one request for key under the named policy at now.
//
// An unknown policy fails closed: the decision denies and the error wraps ErrUnknownPolicy.
func (r *RateLimiter) CheckAt(policyName, key string, now time.Time) (core.Decision, error) {
	policy, err := r.policy(policyName)
	if err != nil {
		return core.Decision{Policy: policyName}, err
	}

	decision := core.Decision{Policy: policy.Name, Limit: policy.Max}
	r.Store.Update(policy.Name, key, func(entry *core.CounterEntry) *core.CounterEntry {
		if entry == nil || entry.Expired(now) {
			entry = &core.CounterEntry{Count: 1, ResetAt: now.Add(policy.Window)}
			decision.Allowed = true
			decision.Remaining = policy.Max - 1
			decision.ResetAt = entry.ResetAt
			return entry
		}

		// The count keeps growing past Max while the window is open.
		entry.Count++
		if entry.Count > int64(policy.Max) {
			decision.Allowed = false
			decision.Remaining = 0
			decision.FirstDenial = entry.Count == int64(policy.Max)+1
		} else {
			decision.Allowed = true
			decision.Remaining = policy.Max - int(entry.Count)
		}
		decision.ResetAt = entry.ResetAt
		return entry
	})

	return decision, nil
}

// CheckRequest derives the key for id using the policy's key rule and checks it.
func (r *RateLimiter) CheckRequest(policyName string, id core.RequestIdentity) (core.Decision, string, error) {
	return r.CheckRequestAt(policyName, id, r.Now())
}

// CheckRequestAt is CheckRequest evaluated at now.
func (r *RateLimiter) CheckRequestAt(policyName string, id core.RequestIdentity, now time.Time) (core.Decision, string, error) {
	policy, err := r.policy(policyName)
	if err != nil {
		return core.Decision{Policy: policyName}, "", err
	}
	key := r.Keys.Derive(id, policy.KeyRule)
	decision, err := r.CheckAt(policy.Name, key, now)
	return decision, key, err
}

// Reset forgets the window for key and reports whether an entry existed.
func (r *RateLimiter) Reset(policyName, key string) (bool, error) {
	if _, err := r.policy(policyName); err != nil {
		return false, err
	}
	return r.Store.Delete(policyName, key), nil
}

// Snapshot returns a copy of the stored entry for key.
func (r *RateLimiter) Snapshot(policyName, key string) (core.CounterEntry, bool, error) {
	if _, err := r.policy(policyName); err != nil {
		return core.CounterEntry{}, false, err
	}
	entry, ok := r.Store.Get(policyName, key)
	return entry, ok, nil
}

// Restore installs entry for key, replacing any current window.
func (r *RateLimiter) Restore(policyName, key string, entry core.CounterEntry) error {
	if _, err := r.policy(policyName); err != nil {
		return err
	}
	if entry.Count < 0 {
		return errors.New("counter entry count must not be negative")
	}
	if entry.ResetAt.IsZero() {
		return errors.New("counter entry reset time is required")
	}
	r.Store.Put(policyName, key, entry)
	return nil
}

// Stats reports stored and active entry counts per policy.
func (r *RateLimiter) Stats() Stats {
	counts := r.Store.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	return Stats{Entries: total, Policies: counts, Active: r.Store.ActiveCounts(r.Now())}
}

// Start launches the limiter's reaper. It is an error to start twice without Close.
func (r *RateLimiter) Start(ctx context.Context, interval time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reaper != nil {
		return errors.New("rate limiter reaper already running")
	}
	reaper := NewReaper(r.Store, interval)
	reaper.Clock = r.Clock
	reaper.Start(ctx)
	r.reaper = reaper
	return nil
}

// Close stops the reaper, if running, and waits for it to exit.
func (r *RateLimiter) Close() error {
	r.mu.Lock()
	reaper := r.reaper
	r.reaper = nil
	r.mu.Unlock()

	if reaper != nil {
		reaper.Stop()
	}
	return nil
}

func (r *RateLimiter) policy(name string) (core.Policy, error) {
	if r == nil || r.Registry == nil {
		return core.Policy{}, fmt.Errorf("%w: %q (no registry)", ErrUnknownPolicy, name)
	}
	p, ok := r.Registry.Lookup(name)
	if !ok {
		return core.Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Now returns the limiter's current time.
func (r *RateLimiter) Now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
