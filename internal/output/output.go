package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fairwayhq/fairway/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders rate limit policies and denial journal entries.
type Formatter interface {
	FormatPolicies(policies []PolicyView) (string, error)
	FormatDenials(denials []core.DenialEvent) (string, error)
}

// PolicyView is the rendered form of a policy with an optional live entry count.
type PolicyView struct {
	Name          string `json:"name" yaml:"name"`
	Window        string `json:"window" yaml:"window"`
	WindowSeconds int64  `json:"window_seconds" yaml:"window_seconds"`
	Max           int    `json:"max" yaml:"max"`
	KeyRule       string `json:"key_rule" yaml:"key_rule"`
	Entries       *int   `json:"entries,omitempty" yaml:"entries,omitempty"`
}

// NewPolicyViews converts policies for rendering. counts may be nil.
func NewPolicyViews(policies []core.Policy, counts map[string]int) []PolicyView {
	views := make([]PolicyView, 0, len(policies))
	for _, p := range policies {
		view := PolicyView{
			Name:          p.Name,
			Window:        p.Window.String(),
			WindowSeconds: int64(p.Window / time.Second),
			Max:           p.Max,
			KeyRule:       string(p.KeyRule),
		}
		if counts != nil {
			n := counts[p.Name]
			view.Entries = &n
		}
		views = append(views, view)
	}
	return views
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension is the file extension used when output is written to a directory.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
