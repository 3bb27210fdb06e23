package output

import (
	"fmt"
	"strings"

	"github.com/fairwayhq/fairway/internal/core"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatPolicies renders policies as Markdown.
func (f *MarkdownFormatter) FormatPolicies(policies []PolicyView) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limit policies\n\n")
	sb.WriteString("| Policy | Window | Max | Key Rule |\n")
	sb.WriteString("|--------|--------|-----|----------|\n")

	for _, p := range policies {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s |\n",
			escapeMarkdownCell(p.Name),
			escapeMarkdownCell(p.Window),
			p.Max,
			escapeMarkdownCell(p.KeyRule),
		))
	}
	return sb.String(), nil
}

// FormatDenials renders journal entries as Markdown.
func (f *MarkdownFormatter) FormatDenials(denials []core.DenialEvent) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limit denials\n\n")
	sb.WriteString("| First Denied | Policy | Key | Path |\n")
	sb.WriteString("|--------------|--------|-----|------|\n")

	for _, d := range denials {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			formatTime(d.FirstDeniedAt),
			escapeMarkdownCell(d.Policy),
			escapeMarkdownCell(d.Key),
			escapeMarkdownCell(d.Path),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**Total**: %d\n", len(denials)))
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
