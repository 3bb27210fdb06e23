package store

import (
	"context"
	"errors"
	"fmt"
)

// migrations are applied in order; the database's user_version records how many ran.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS rate_limit_denials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			policy TEXT NOT NULL,
			key TEXT NOT NULL,
			path TEXT,
			reset_at INTEGER NOT NULL,
			first_denied_at INTEGER NOT NULL,
			UNIQUE(policy, key, reset_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_denials_denied ON rate_limit_denials(first_denied_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_denials_lookup ON rate_limit_denials(policy, key)`,
	},
}

// SchemaVersion is the user_version a fully migrated database reports.
var SchemaVersion = len(migrations)

// Migrate brings the schema up to SchemaVersion. It is safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("store schema version %d is newer than this binary supports (%d)", current, SchemaVersion)
	}

	for version := current; version < SchemaVersion; version++ {
		for _, stmt := range migrations[version] {
			if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store migration %d: %w", version+1, err)
			}
		}
		if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			return fmt.Errorf("record schema version %d: %w", version+1, err)
		}
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
