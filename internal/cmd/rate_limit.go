package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/fairwayhq/fairway/internal/core/store"
	"github.com/fairwayhq/fairway/internal/output"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect the rate limit denial journal",
}

var (
	denialsPolicy string
	denialsPrefix string
	denialsSince  string
	denialsLimit  int
)

var rateLimitDenialsCmd = &cobra.Command{
	Use:   "denials",
	Short: "List journaled first denials, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseTimeFlag(denialsSince, time.Now())
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		query := store.DenialQuery{
			Policy: strings.TrimSpace(denialsPolicy),
			Prefix: strings.TrimSpace(denialsPrefix),
			Since:  since,
			Limit:  denialsLimit,
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		denials, err := db.ListDenials(cmd.Context(), query)
		if err != nil {
			return err
		}

		target, err := openRenderTarget(cmd, "rate-limit.denials")
		if err != nil {
			return err
		}
		defer target.Close() // nolint:errcheck

		if len(denials) == 0 && target.Format == output.FormatTable {
			_, err = fmt.Fprint(target, ascii.DrawBox("Rate Limit Denials\n\n(no journaled denials)", 0))
			return err
		}

		rendered, err := output.NewFormatter(target.Format).FormatDenials(denials)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(target, rendered)
		return err
	},
}

var (
	pruneBefore string
	prunePolicy string
	prunePrefix string
	pruneAll    bool
	pruneYes    bool
	pruneDryRun bool
)

var rateLimitPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journaled denials",
	RunE: func(cmd *cobra.Command, args []string) error {
		before, err := parseTimeFlag(pruneBefore, time.Now())
		if err != nil {
			return fmt.Errorf("--before: %w", err)
		}
		query := store.DenialQuery{
			All:    pruneAll,
			Policy: strings.TrimSpace(prunePolicy),
			Prefix: strings.TrimSpace(prunePrefix),
			Before: before,
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if !pruneYes && !pruneDryRun {
			return errors.New("prune requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountDenials(cmd.Context(), query)
		if err != nil {
			return err
		}

		target, err := openRenderTarget(cmd, "rate-limit.prune")
		if err != nil {
			return err
		}
		defer target.Close() // nolint:errcheck
		if target.Format != output.FormatJSON && target.Format != output.FormatTable {
			return fmt.Errorf("prune supports table or json output, not %s", target.Format)
		}

		if pruneDryRun {
			return writePruneResult(target.Format, target, matched, 0, true)
		}

		deleted, err := db.PruneDenials(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writePruneResult(target.Format, target, matched, deleted, false)
	},
}

func writePruneResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d denial(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d denial(s)\n", deleted, matched)
	return err
}

// parseTimeFlag accepts RFC 3339 timestamps or a duration meaning "that long before now".
func parseTimeFlag(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	d, err := parseAge(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 time, date, or duration like 24h or 7d: %q", value)
	}
	return now.Add(-d).UTC(), nil
}

// parseAge extends time.ParseDuration with a day unit. Negative ages are rejected.
func parseAge(value string) (time.Duration, error) {
	unit := time.Duration(1)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		value, unit = days+"h", 24
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	d *= unit
	if d < 0 {
		return 0, errors.New("negative duration")
	}
	return d, nil
}

func init() {
	rateLimitCmd.AddCommand(rateLimitDenialsCmd)
	rateLimitCmd.AddCommand(rateLimitPruneCmd)
	rootCmd.AddCommand(rateLimitCmd)

	addOutputFlags(rateLimitDenialsCmd)
	rateLimitDenialsCmd.Flags().StringVar(&denialsPolicy, "policy", "", "Only denials for this policy")
	rateLimitDenialsCmd.Flags().StringVar(&denialsPrefix, "prefix", "", "Only keys with this prefix (e.g. user: or ip:10.)")
	rateLimitDenialsCmd.Flags().StringVar(&denialsSince, "since", "", "Only denials at or after this time (RFC 3339, date, or age like 24h/7d)")
	rateLimitDenialsCmd.Flags().IntVar(&denialsLimit, "limit", 100, "Maximum rows (0 for all)")

	addOutputFlags(rateLimitPruneCmd)
	rateLimitPruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Delete denials before this time (RFC 3339, date, or age like 30d)")
	rateLimitPruneCmd.Flags().StringVar(&prunePolicy, "policy", "", "Delete only denials for this policy")
	rateLimitPruneCmd.Flags().StringVar(&prunePrefix, "prefix", "", "Delete only keys with this prefix")
	rateLimitPruneCmd.Flags().BoolVar(&pruneAll, "all", false, "Delete all denials")
	rateLimitPruneCmd.Flags().BoolVar(&pruneYes, "yes", false, "Confirm deletion")
	rateLimitPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Show what would be deleted")
}
