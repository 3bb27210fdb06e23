//go:build cgo

package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwayhq/fairway/internal/core"
	"github.com/fairwayhq/fairway/internal/core/store"
)

func TestNewAdmissionJournalsDenials(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "fairway.db")
	cfg := loadTestConfig(t, map[string]any{"store.path": dbPath})

	adm, err := newAdmission(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, adm.journal)
	require.NotNil(t, adm.recorder())
	require.NoError(t, storeHealthChecker{store: adm.store}.CheckHealth(ctx))

	resetAt := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	adm.recorder().Record(core.DenialEvent{Policy: "bets", Key: "user:alice", ResetAt: resetAt, FirstDeniedAt: time.Now()})
	require.NoError(t, adm.close(ctx))

	db, err := openStoreWith(ctx, cfg.Store)
	require.NoError(t, err)
	defer db.Close() // nolint:errcheck

	denials, err := db.ListDenials(ctx, store.DenialQuery{Policy: "bets"})
	require.NoError(t, err)
	require.Len(t, denials, 1)
	assert.Equal(t, "user:alice", denials[0].Key)
	assert.Equal(t, resetAt, denials[0].ResetAt)
}
