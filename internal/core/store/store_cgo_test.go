//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairwayhq/fairway/internal/config"
	"github.com/fairwayhq/fairway/internal/core"
)

func openMigratedStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	version, err := store.schemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)
	require.NoError(t, store.Close())
}

func TestDenialRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openMigratedStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	events := []core.DenialEvent{
		{Policy: "auth", Key: "ip:203.0.113.9", Path: "/v1/login", ResetAt: base.Add(15 * time.Minute), FirstDeniedAt: base},
		{Policy: "bets", Key: "user:alice", Path: "/v1/bets", ResetAt: base.Add(2 * time.Minute), FirstDeniedAt: base.Add(time.Minute)},
		{Policy: "bets", Key: "user:bob", ResetAt: base.Add(3 * time.Minute), FirstDeniedAt: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, store.RecordDenial(ctx, ev))
	}
	// Same window again is ignored.
	require.NoError(t, store.RecordDenial(ctx, events[0]))

	all, err := store.ListDenials(ctx, DenialQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "user:bob", all[0].Key)
	require.Equal(t, events[0], all[2])

	bets, err := store.ListDenials(ctx, DenialQuery{Policy: "bets", Prefix: "user:a"})
	require.NoError(t, err)
	require.Len(t, bets, 1)
	require.Equal(t, "/v1/bets", bets[0].Path)

	recent, err := store.CountDenials(ctx, DenialQuery{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 2, recent)

	limited, err := store.ListDenials(ctx, DenialQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	removed, err := store.PruneDenials(ctx, DenialQuery{Before: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, err = store.PruneDenials(ctx, DenialQuery{})
	require.Error(t, err)

	removed, err = store.PruneDenials(ctx, DenialQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)
}

func TestJournalPersistsToStore(t *testing.T) {
	ctx := context.Background()
	store := openMigratedStore(t)
	journal := NewJournal(store, 8)

	resetAt := time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC)
	journal.Record(core.DenialEvent{Policy: "global", Key: "user:carol", ResetAt: resetAt, FirstDeniedAt: resetAt.Add(-30 * time.Second)})
	require.NoError(t, journal.Close(ctx))

	count, err := store.CountDenials(ctx, DenialQuery{Policy: "global"})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int64(1), journal.Written())
}

func TestLocalFileStoreSettingsAndReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{Path: t.TempDir() + "/journal/fairway.db"}

	first, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, first.DB.Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, first.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	var busy int
	require.NoError(t, first.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	require.Equal(t, localBusyTimeoutMs, busy)

	require.NoError(t, first.Migrate(ctx))
	resetAt := time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC)
	require.NoError(t, first.RecordDenial(ctx, core.DenialEvent{Policy: "bets", Key: "user:alice", ResetAt: resetAt}))
	require.NoError(t, first.Close())

	second, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.Migrate(ctx))

	n, err := second.CountDenials(ctx, DenialQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
