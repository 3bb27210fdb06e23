package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairwayhq/fairway/internal/core"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, clock *testClock, policies ...core.Policy) *RateLimiter {
	t.Helper()
	registry, err := NewPolicyRegistry(policies...)
	require.NoError(t, err)

	limiter := NewRateLimiter(registry)
	limiter.Clock = clock.Now
	return limiter
}

func TestRateLimiterWindow(t *testing.T) {
	clock := newTestClock()
	start := clock.Now()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 5})

	for i, want := range []int{4, 3, 2, 1, 0} {
		decision, err := limiter.Check("api", "user:42")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d", i+1)
		require.Equal(t, want, decision.Remaining)
		require.Equal(t, 5, decision.Limit)
		require.Equal(t, start.Add(time.Minute), decision.ResetAt)
	}

	clock.Advance(10 * time.Second)
	decision, err := limiter.Check("api", "user:42")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, 0, decision.Remaining)
	require.Equal(t, 50, decision.RetryAfterSeconds(clock.Now()))

	clock.Advance(51 * time.Second)
	decision, err = limiter.Check("api", "user:42")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 4, decision.Remaining)
	require.Equal(t, start.Add(61*time.Second+time.Minute), decision.ResetAt)
}

func TestRateLimiterWindowBoundary(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 1})

	first, err := limiter.Check("api", "ip:10.0.0.1")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	clock.Advance(time.Minute - time.Nanosecond)
	denied, err := limiter.Check("api", "ip:10.0.0.1")
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// now == resetAt starts a fresh window
	clock.Advance(time.Nanosecond)
	fresh, err := limiter.Check("api", "ip:10.0.0.1")
	require.NoError(t, err)
	require.True(t, fresh.Allowed)
	require.Equal(t, 0, fresh.Remaining)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 3})

	for i := 0; i < 10; i++ {
		_, err := limiter.Check("api", "user:1")
		require.NoError(t, err)
	}

	decision, err := limiter.Check("api", "user:2")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 2, decision.Remaining)
}

func TestRateLimiterPoliciesAreIndependent(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock,
		core.Policy{Name: "global", Window: time.Minute, Max: 2},
		core.Policy{Name: "bets", Window: time.Minute, Max: 2},
	)

	for i := 0; i < 5; i++ {
		_, err := limiter.Check("global", "user:7")
		require.NoError(t, err)
	}

	decision, err := limiter.Check("bets", "user:7")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 1, decision.Remaining)
}

func TestRateLimiterRemainingNeverIncreasesWithinWindow(t *testing.T) {
	clock := newTestClock()
	policy := core.Policy{Name: "api", Window: 30 * time.Second, Max: 7}
	limiter := newTestLimiter(t, clock, policy)

	last := policy.Max
	for i := 0; i < 20; i++ {
		now := clock.Now()
		decision, err := limiter.Check("api", "user:9")
		require.NoError(t, err)

		require.GreaterOrEqual(t, decision.Remaining, 0)
		require.LessOrEqual(t, decision.Remaining, last)
		require.True(t, now.Before(decision.ResetAt))
		require.False(t, decision.ResetAt.After(now.Add(policy.Window)))

		last = decision.Remaining
		clock.Advance(time.Second)
	}
}

func TestRateLimiterCountGrowsPastMax(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 3})

	for i := 0; i < 8; i++ {
		_, err := limiter.Check("api", "user:3")
		require.NoError(t, err)
	}

	entry, ok, err := limiter.Snapshot("api", "user:3")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(8), entry.Count)
}

func TestRateLimiterAuthPolicyScenario(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{
		Name:    PolicyAuth,
		Window:  900 * time.Second,
		Max:     10,
		KeyRule: core.KeyRuleOrigin,
	})
	id := core.RequestIdentity{PeerAddr: "203.0.113.9:51000"}

	previous := 10
	for i := 1; i <= 11; i++ {
		decision, key, err := limiter.CheckRequest(PolicyAuth, id)
		require.NoError(t, err)
		require.Equal(t, "ip:203.0.113.9", key)

		if i <= 10 {
			require.True(t, decision.Allowed, "request %d", i)
			require.Less(t, decision.Remaining, previous)
			previous = decision.Remaining
		} else {
			require.False(t, decision.Allowed)
		}
		clock.Advance(500 * time.Millisecond)
	}
}

func TestRateLimiterUnknownPolicyFailsClosed(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 3})

	decision, err := limiter.Check("missing", "user:1")
	require.ErrorIs(t, err, ErrUnknownPolicy)
	require.False(t, decision.Allowed)
	require.Equal(t, 0, limiter.Stats().Entries)

	_, err = limiter.Reset("missing", "user:1")
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestRateLimiterSnapshotRestoreReplay(t *testing.T) {
	policy := core.Policy{Name: "api", Window: time.Minute, Max: 4}

	clockA := newTestClock()
	uninterrupted := newTestLimiter(t, clockA, policy)
	clockB := newTestClock()
	restored := newTestLimiter(t, clockB, policy)

	for i := 0; i < 3; i++ {
		_, err := uninterrupted.Check("api", "user:5")
		require.NoError(t, err)
		clockA.Advance(time.Second)
	}
	clockB.Advance(3 * time.Second)

	entry, ok, err := uninterrupted.Snapshot("api", "user:5")
	require.NoError(t, err)
	require.True(t, ok)

	payload, err := json.Marshal(entry)
	require.NoError(t, err)
	var decoded core.CounterEntry
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.NoError(t, restored.Restore("api", "user:5", decoded))

	steps := []time.Duration{time.Second, 5 * time.Second, 10 * time.Second, 45 * time.Second, time.Second}
	for _, step := range steps {
		want, err := uninterrupted.Check("api", "user:5")
		require.NoError(t, err)
		got, err := restored.Check("api", "user:5")
		require.NoError(t, err)
		require.Equal(t, want, got)

		clockA.Advance(step)
		clockB.Advance(step)
	}
}

func TestRateLimiterRestoreValidation(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 4})

	require.Error(t, limiter.Restore("api", "user:1", core.CounterEntry{Count: -1, ResetAt: clock.Now()}))
	require.Error(t, limiter.Restore("api", "user:1", core.CounterEntry{Count: 1}))
	require.ErrorIs(t, limiter.Restore("nope", "user:1", core.CounterEntry{Count: 1, ResetAt: clock.Now()}), ErrUnknownPolicy)
}

func TestRateLimiterConcurrentChecksAdmitExactlyMax(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Hour, Max: 100})

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	const callers = 500
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			decision, err := limiter.Check("api", "user:hot")
			if err == nil && decision.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(100), allowed.Load())

	entry, ok, err := limiter.Snapshot("api", "user:hot")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(callers), entry.Count)
}

func TestRateLimiterCheckRequestKeyRules(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock,
		core.Policy{Name: "global", Window: time.Minute, Max: 10, KeyRule: core.KeyRulePrincipal},
		core.Policy{Name: "auth", Window: time.Minute, Max: 10, KeyRule: core.KeyRuleOrigin},
	)
	id := core.RequestIdentity{PrincipalID: "42", ForwardedFor: "198.51.100.4, 10.0.0.1", PeerAddr: "10.0.0.1:443"}

	_, key, err := limiter.CheckRequest("global", id)
	require.NoError(t, err)
	require.Equal(t, "user:42", key)

	_, key, err = limiter.CheckRequest("auth", id)
	require.NoError(t, err)
	require.Equal(t, "ip:198.51.100.4", key)

	_, _, err = limiter.CheckRequest("missing", id)
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestRateLimiterResetAndStats(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock,
		core.Policy{Name: "global", Window: time.Minute, Max: 2},
		core.Policy{Name: "bets", Window: time.Minute, Max: 2},
	)

	for _, key := range []string{"user:1", "user:2", "user:3"} {
		_, err := limiter.Check("global", key)
		require.NoError(t, err)
	}
	_, err := limiter.Check("bets", "user:1")
	require.NoError(t, err)

	stats := limiter.Stats()
	require.Equal(t, 4, stats.Entries)
	require.Equal(t, map[string]int{"global": 3, "bets": 1}, stats.Policies)

	removed, err := limiter.Reset("bets", "user:1")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = limiter.Reset("bets", "user:1")
	require.NoError(t, err)
	require.False(t, removed)

	require.Equal(t, map[string]int{"global": 3}, limiter.Stats().Policies)
}

func TestRateLimiterStartClose(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 2})

	require.NoError(t, limiter.Start(context.Background(), 10*time.Millisecond))
	require.Error(t, limiter.Start(context.Background(), 10*time.Millisecond))
	require.NoError(t, limiter.Close())
	require.NoError(t, limiter.Close())

	require.NoError(t, limiter.Start(context.Background(), 10*time.Millisecond))
	require.NoError(t, limiter.Close())
}

func TestRateLimiterFirstDenialOncePerWindow(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "api", Window: time.Minute, Max: 2})

	var first []bool
	for i := 0; i < 5; i++ {
		decision, err := limiter.Check("api", "user:1")
		require.NoError(t, err)
		first = append(first, decision.FirstDenial)
	}
	require.Equal(t, []bool{false, false, true, false, false}, first)

	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		decision, err := limiter.Check("api", "user:1")
		require.NoError(t, err)
		require.Equal(t, i == 2, decision.FirstDenial)
	}
}

func TestRateLimiterStatsActiveExcludesEndedWindows(t *testing.T) {
	clock := newTestClock()
	limiter := newTestLimiter(t, clock, core.Policy{Name: "global", Window: time.Minute, Max: 2})

	_, err := limiter.Check("global", "user:1")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = limiter.Check("global", "user:2")
	require.NoError(t, err)

	require.Equal(t, map[string]int{"global": 2}, limiter.Stats().Active)

	clock.Advance(30 * time.Second)
	stats := limiter.Stats()
	require.Equal(t, 2, stats.Entries, "unreaped entries are still stored")
	require.Equal(t, map[string]int{"global": 1}, stats.Active)
}
