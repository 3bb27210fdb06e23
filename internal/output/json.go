package output

import (
	"encoding/json"

	"github.com/fairwayhq/fairway/internal/core"
)

// JSONFormatter renders results as JSON arrays, never null.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatPolicies(policies []PolicyView) (string, error) {
	return encodeJSON(nonNil(policies), f.Indent)
}

func (f *JSONFormatter) FormatDenials(denials []core.DenialEvent) (string, error) {
	return encodeJSON(nonNil(denials), f.Indent)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func encodeJSON(v any, indent bool) (string, error) {
	marshal := json.Marshal
	if indent {
		marshal = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	data, err := marshal(v)
	return string(data), err
}
