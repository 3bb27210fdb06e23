package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fairwayhq/fairway/internal/core"
)

// DenialQuery selects journal rows. Zero-valued fields do not filter.
type DenialQuery struct {
	All    bool
	Policy string
	Prefix string
	Since  time.Time
	Before time.Time
	Limit  int
}

// Validate reports whether q is specific enough for a destructive operation.
func (q DenialQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Policy) != "" || strings.TrimSpace(q.Prefix) != "" || !q.Before.IsZero() {
		return nil
	}
	return errors.New("must specify --all, --policy, --prefix, or --before")
}

func (q DenialQuery) whereClause() (string, []any) {
	if q.All {
		return "", nil
	}

	var (
		conds []string
		args  []any
	)
	if policy := strings.TrimSpace(q.Policy); policy != "" {
		conds = append(conds, "policy = ?")
		args = append(args, policy)
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		conds = append(conds, `key LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(prefix)+"%")
	}
	if !q.Since.IsZero() {
		conds = append(conds, "first_denied_at >= ?")
		args = append(args, q.Since.UTC().Unix())
	}
	if !q.Before.IsZero() {
		conds = append(conds, "first_denied_at < ?")
		args = append(args, q.Before.UTC().Unix())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// RecordDenial stores one denial event. A repeated event for the same
// policy, key and window is ignored.
func (s *Store) RecordDenial(ctx context.Context, event core.DenialEvent) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	policy := strings.TrimSpace(event.Policy)
	if policy == "" {
		return errors.New("policy is required")
	}
	if event.Key == "" {
		return errors.New("key is required")
	}
	if event.FirstDeniedAt.IsZero() {
		event.FirstDeniedAt = time.Now()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limit_denials (policy, key, path, reset_at, first_denied_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(policy, key, reset_at) DO NOTHING
	`, policy, event.Key, event.Path, event.ResetAt.UTC().Unix(), event.FirstDeniedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store denial: %w", err)
	}
	return nil
}

// ListDenials returns matching denials, newest first.
func (s *Store) ListDenials(ctx context.Context, q DenialQuery) ([]core.DenialEvent, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	limit := ""
	if q.Limit > 0 {
		limit = "LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT policy, key, COALESCE(path, ''), reset_at, first_denied_at
		FROM rate_limit_denials
		%s
		ORDER BY first_denied_at DESC, id DESC
		%s
	`, where, limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list denials: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	events := []core.DenialEvent{}
	for rows.Next() {
		var (
			event       core.DenialEvent
			resetAt     int64
			firstDenied int64
		)
		if err := rows.Scan(&event.Policy, &event.Key, &event.Path, &resetAt, &firstDenied); err != nil {
			return nil, fmt.Errorf("scan denials: %w", err)
		}
		event.ResetAt = time.Unix(resetAt, 0).UTC()
		event.FirstDeniedAt = time.Unix(firstDenied, 0).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list denials: %w", err)
	}

	return events, nil
}

// CountDenials returns the number of matching denials.
func (s *Store) CountDenials(ctx context.Context, q DenialQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM rate_limit_denials
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count denials: %w", err)
	}
	return count, nil
}

// PruneDenials deletes matching denials and returns how many were removed.
func (s *Store) PruneDenials(ctx context.Context, q DenialQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}

	where, args := q.whereClause()
	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_limit_denials
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("prune denials: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune denials: %w", err)
	}
	return affected, nil
}
