package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fairwayhq/fairway/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatPolicies renders policies as a table. The Entries column appears only
// when live counts are present.
func (f *TableFormatter) FormatPolicies(policies []PolicyView) (string, error) {
	withEntries := hasEntries(policies)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	header := table.Row{"Policy", "Window", "Max", "Key Rule"}
	if withEntries {
		header = append(header, "Entries")
	}
	t.AppendHeader(header)

	for _, p := range policies {
		row := table.Row{p.Name, p.Window, p.Max, p.KeyRule}
		if withEntries {
			entries := 0
			if p.Entries != nil {
				entries = *p.Entries
			}
			row = append(row, entries)
		}
		t.AppendRow(row)
	}

	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d policies", len(policies))})
	return t.Render(), nil
}

// FormatDenials renders journal entries as a table.
func (f *TableFormatter) FormatDenials(denials []core.DenialEvent) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"First Denied", "Policy", "Key", "Path", "Window Resets"})

	for _, d := range denials {
		path := d.Path
		if path == "" {
			path = "-"
		}
		t.AppendRow(table.Row{
			formatTime(d.FirstDeniedAt),
			d.Policy,
			d.Key,
			path,
			formatTime(d.ResetAt),
		})
	}

	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d denials", len(denials))})
	return t.Render(), nil
}

func hasEntries(policies []PolicyView) bool {
	for _, p := range policies {
		if p.Entries != nil {
			return true
		}
	}
	return false
}
