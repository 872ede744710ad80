package provider

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadSpecs reads provider specs from a YAML file with a top-level
// "providers" list.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: read registry %s", path)
	}
	return ParseSpecs(data)
}

// ParseSpecs decodes the registry YAML document.
func ParseSpecs(data []byte) ([]Spec, error) {
	var doc struct {
		Providers []Spec `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "provider: parse registry")
	}
	return doc.Providers, nil
}
