package engine

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fairwayhq/fairway/internal/core"
)

// DefaultShardCount is the number of lock shards used by NewWindowStore when given n <= 0.
const DefaultShardCount = 64

// WindowStore holds counter entries per policy and key.
//
// Every (policy, key) pair maps to exactly one shard, and all reads and writes of
// that pair, including sweeps, happen under the shard's mutex.
type WindowStore struct {
	shards []*windowShard
	mask   uint64
}

type windowShard struct {
	mu       sync.Mutex
	policies map[string]map[string]*core.CounterEntry
}

// NewWindowStore returns an empty store with n shards, rounded up to a power of two.
func NewWindowStore(n int) *WindowStore {
	if n <= 0 {
		n = DefaultShardCount
	}
	size := 1
	for size < n {
		size <<= 1
	}

	s := &WindowStore{
		shards: make([]*windowShard, size),
		mask:   uint64(size - 1),
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{policies: make(map[string]map[string]*core.CounterEntry)}
	}
	return s
}

func (s *WindowStore) shardFor(policy, key string) *windowShard {
	return s.shards[xxhash.Sum64String(policy+"\x00"+key)&s.mask]
}

// Update runs fn with the current entry (nil when absent) under the shard lock.
// The entry fn returns is stored; returning nil removes the key.
func (s *WindowStore) Update(policy, key string, fn func(current *core.CounterEntry) *core.CounterEntry) {
	sh := s.shardFor(policy, key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sub := sh.policies[policy]
	var current *core.CounterEntry
	if sub != nil {
		current = sub[key]
	}

	next := fn(current)
	if next == nil {
		if sub != nil {
			delete(sub, key)
			if len(sub) == 0 {
				delete(sh.policies, policy)
			}
		}
		return
	}

	if sub == nil {
		sub = make(map[string]*core.CounterEntry)
		sh.policies[policy] = sub
	}
	sub[key] = next
}

// Get returns a copy of the stored entry.
func (s *WindowStore) Get(policy, key string) (core.CounterEntry, bool) {
	var (
		entry core.CounterEntry
		found bool
	)
	s.Update(policy, key, func(current *core.CounterEntry) *core.CounterEntry {
		if current != nil {
			entry, found = *current, true
		}
		return current
	})
	return entry, found
}

// Put replaces the entry for key.
func (s *WindowStore) Put(policy, key string, entry core.CounterEntry) {
	s.Update(policy, key, func(*core.CounterEntry) *core.CounterEntry {
		e := entry
		return &e
	})
}

// Delete removes key and reports whether it was present.
func (s *WindowStore) Delete(policy, key string) bool {
	var removed bool
	s.Update(policy, key, func(current *core.CounterEntry) *core.CounterEntry {
		removed = current != nil
		return nil
	})
	return removed
}

// Sweep removes every entry whose window has ended at now, and any policy left empty.
// It returns the number of entries removed.
func (s *WindowStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for policy, sub := range sh.policies {
			for key, entry := range sub {
				if entry.Expired(now) {
					delete(sub, key)
					removed++
				}
			}
			if len(sub) == 0 {
				delete(sh.policies, policy)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Counts returns the number of stored entries per policy, including expired
// entries the reaper has not removed yet.
func (s *WindowStore) Counts() map[string]int {
	counts := make(map[string]int)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for policy, sub := range sh.policies {
			counts[policy] += len(sub)
		}
		sh.mu.Unlock()
	}
	return counts
}

// ActiveCounts returns the number of entries per policy whose window is still
// open at now. Policies without an open window are omitted.
func (s *WindowStore) ActiveCounts(now time.Time) map[string]int {
	counts := make(map[string]int)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for policy, sub := range sh.policies {
			for _, entry := range sub {
				if !entry.Expired(now) {
					counts[policy]++
				}
			}
		}
		sh.mu.Unlock()
	}
	return counts
}

// Len returns the total number of stored entries across all policies.
func (s *WindowStore) Len() int {
	total := 0
	for _, n := range s.Counts() {
		total += n
	}
	return total
}
