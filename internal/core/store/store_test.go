package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairwayhq/fairway/internal/config"
	"github.com/fairwayhq/fairway/internal/core"
)

func TestResolveTarget(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		got, err := resolveTarget(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", got.dsn)
		require.False(t, got.local)
	})

	t.Run("URLWithExistingQuery", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?foo=bar",
			AuthToken: "token123",
		}

		got, err := resolveTarget(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123&foo=bar", got.dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.StoreConfig{Path: "file:" + dir + "/nested/fairway.db"}

		got, err := resolveTarget(cfg)
		require.NoError(t, err)
		require.Equal(t, cfg.Path, got.dsn)
		require.True(t, got.local)
		require.DirExists(t, filepath.Join(dir, "nested"))
	})

	t.Run("PathMissing", func(t *testing.T) {
		cfg := config.StoreConfig{}

		_, err := resolveTarget(cfg)
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		cfg := config.StoreConfig{Path: ":memory:"}

		got, err := resolveTarget(cfg)
		require.NoError(t, err)
		require.Equal(t, ":memory:", got.dsn)
		require.True(t, got.local)
	})

	t.Run("BarePathBecomesFileDSN", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data", "fairway.db")

		got, err := resolveTarget(config.StoreConfig{Path: path})
		require.NoError(t, err)
		require.Equal(t, "file:"+path, got.dsn)
		require.DirExists(t, filepath.Dir(path))
	})

	t.Run("UnsupportedDriver", func(t *testing.T) {
		_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
		require.ErrorContains(t, err, "unsupported store driver")
	})
}

func TestDenialQueryWhereClause(t *testing.T) {
	since := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("AllIgnoresFilters", func(t *testing.T) {
		where, args := DenialQuery{All: true, Policy: "auth"}.whereClause()
		require.Empty(t, where)
		require.Nil(t, args)
	})

	t.Run("Combined", func(t *testing.T) {
		where, args := DenialQuery{Policy: "auth", Prefix: "ip:10.", Since: since}.whereClause()
		require.Equal(t, `WHERE policy = ? AND key LIKE ? ESCAPE '\' AND first_denied_at >= ?`, where)
		require.Equal(t, []any{"auth", "ip:10.%", since.Unix()}, args)
	})

	t.Run("PrefixEscapesWildcards", func(t *testing.T) {
		_, args := DenialQuery{Prefix: "user:a_b%"}.whereClause()
		require.Equal(t, []any{`user:a\_b\%%`}, args)
	})

	t.Run("Empty", func(t *testing.T) {
		where, args := DenialQuery{}.whereClause()
		require.Empty(t, where)
		require.Empty(t, args)
	})
}

func TestDenialQueryValidate(t *testing.T) {
	require.Error(t, DenialQuery{}.Validate())
	require.Error(t, DenialQuery{Since: time.Now()}.Validate())
	require.NoError(t, DenialQuery{All: true}.Validate())
	require.NoError(t, DenialQuery{Policy: "bets"}.Validate())
	require.NoError(t, DenialQuery{Before: time.Now()}.Validate())
}

func TestNilStoreReturnsErrors(t *testing.T) {
	var s *Store
	require.Error(t, s.RecordDenial(context.Background(), core.DenialEvent{Policy: "a", Key: "b"}))
	_, err := s.ListDenials(context.Background(), DenialQuery{})
	require.Error(t, err)
	require.NoError(t, s.Close())
	require.Empty(t, s.Driver())
}
