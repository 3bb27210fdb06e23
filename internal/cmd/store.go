package cmd

import (
	"context"
	"fmt"

	"github.com/fairwayhq/fairway/internal/config"
	"github.com/fairwayhq/fairway/internal/core/store"
)

// openStore opens the configured denial store with its schema migrated.
func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStoreWith(ctx, cfg.Store)
}

func openStoreWith(ctx context.Context, cfg config.StoreConfig) (db *store.Store, err error) {
	if db, err = store.Open(ctx, cfg); err != nil {
		return nil, err
	}
	if err = db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate denial store: %w", err)
	}
	return db, nil
}
