package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/core"
	"github.com/fairwayhq/fairway/internal/metrics"
	"github.com/fairwayhq/fairway/internal/observability"
)

// DefaultJournalBuffer is used when a journal is created with a non-positive buffer.
const DefaultJournalBuffer = 256

const journalWriteTimeout = 5 * time.Second

// DenialWriter persists denial events.
type DenialWriter interface {
	RecordDenial(ctx context.Context, event core.DenialEvent) error
}

// Journal writes denial events on a single background goroutine. Record never
// blocks: events that do not fit in the buffer are dropped and counted.
type Journal struct {
	writer DenialWriter
	events chan core.DenialEvent
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewJournal starts a journal writing to w.
func NewJournal(w DenialWriter, buffer int) *Journal {
	if buffer <= 0 {
		buffer = DefaultJournalBuffer
	}
	j := &Journal{
		writer: w,
		events: make(chan core.DenialEvent, buffer),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

// Record enqueues event. Safe on a nil journal and after Close.
func (j *Journal) Record(event core.DenialEvent) {
	if j == nil {
		return
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.drop(event)
		return
	}

	select {
	case j.events <- event:
	default:
		j.drop(event)
	}
}

func (j *Journal) drop(event core.DenialEvent) {
	j.dropped.Add(1)
	metrics.RecordJournalDrop(event.Policy)
}

func (j *Journal) run() {
	defer close(j.done)

	for event := range j.events {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		err := j.writer.RecordDenial(ctx, event)
		cancel()

		metrics.RecordOperation("journal_write", err == nil)
		if err != nil {
			metrics.RecordOperationError("journal_write", "store")
			if logger := observability.ServerLogger; logger != nil {
				logger.Warn("Failed to journal rate limit denial",
					zap.String("policy", event.Policy),
					zap.String("key", event.Key),
					zap.Error(err))
			}
			continue
		}
		j.written.Add(1)
	}
}

// Close stops accepting events and waits until buffered events are written
// or ctx is done.
func (j *Journal) Close(ctx context.Context) error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.events)
	}
	j.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events discarded because the buffer was full
// or the journal was closed.
func (j *Journal) Dropped() int64 {
	if j == nil {
		return 0
	}
	return j.dropped.Load()
}

// Written returns the number of events persisted.
func (j *Journal) Written() int64 {
	if j == nil {
		return 0
	}
	return j.written.Load()
}
