package output

import (
	"gopkg.in/yaml.v3"

	"github.com/fairwayhq/fairway/internal/core"
)

// YAMLFormatter renders results as YAML.
type YAMLFormatter struct{}

// FormatPolicies renders policies as a YAML sequence.
func (f *YAMLFormatter) FormatPolicies(policies []PolicyView) (string, error) {
	if policies == nil {
		policies = []PolicyView{}
	}
	return marshalYAML(policies)
}

type denialYAML struct {
	Policy        string `yaml:"policy"`
	Key           string `yaml:"key"`
	Path          string `yaml:"path,omitempty"`
	ResetAt       string `yaml:"reset_at"`
	FirstDeniedAt string `yaml:"first_denied_at"`
}

// FormatDenials renders denials as a YAML sequence with RFC 3339 timestamps.
func (f *YAMLFormatter) FormatDenials(denials []core.DenialEvent) (string, error) {
	rows := make([]denialYAML, 0, len(denials))
	for _, d := range denials {
		rows = append(rows, denialYAML{
			Policy:        d.Policy,
			Key:           d.Key,
			Path:          d.Path,
			ResetAt:       formatTime(d.ResetAt),
			FirstDeniedAt: formatTime(d.FirstDeniedAt),
		})
	}
	return marshalYAML(rows)
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
