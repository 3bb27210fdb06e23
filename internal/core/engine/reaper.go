package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/metrics"
	"github.com/fairwayhq/fairway/internal/observability"
)

// DefaultReapInterval is used when a reaper is created with a non-positive interval.
const DefaultReapInterval = time.Minute

// Reaper periodically evicts expired entries from a WindowStore.
type Reaper struct {
	Store    *WindowStore
	Interval time.Duration
	Clock    func() time.Time

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewReaper returns a stopped reaper for store.
func NewReaper(store *WindowStore, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		Store:    store,
		Interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs sweeps every Interval until Stop is called or ctx is done.
// Calls after the first are no-ops.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	if ctx == nil {
		ctx = context.Background()
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Rate limit reaper started", zap.Duration("interval", r.Interval))
	}

	go r.run(ctx)
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Stop signals the sweep loop to exit and waits for it. Safe to call more than once.
func (r *Reaper) Stop() {
	r.mu.Lock()
	started := r.started
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.mu.Unlock()

	if !started {
		return
	}
	<-r.done

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Rate limit reaper stopped")
	}
}

// Sweep evicts entries expired at the reaper's current time and returns how many were removed.
func (r *Reaper) Sweep() int {
	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock()
	}

	removed := r.Store.Sweep(now)
	remaining := r.Store.Len()

	metrics.RecordRateLimitSweep(removed, remaining)
	if logger := observability.ServerLogger; logger != nil && removed > 0 {
		logger.Debug("Rate limit sweep completed",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining))
	}
	return removed
}
