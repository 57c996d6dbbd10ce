// Package catalog holds the purchasable feature definitions and their token costs.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"murmur/internal/validation"
)

//go:embed features.yml
var featuresYAML []byte

// Feature is one purchasable entitlement and its token cost.
type Feature struct {
	Name        string `yaml:"name" json:"name"`
	Cost        int64  `yaml:"cost" json:"cost"`
	Description string `yaml:"description" json:"description"`
}

// Catalog answers cost lookups for purchasable features.
type Catalog struct {
	features map[string]Feature
}

type catalogFile struct {
	Features []Feature `yaml:"features"`
}

// Load parses the embedded feature catalog.
func Load() (*Catalog, error) {
	return Parse(featuresYAML)
}

// Parse builds a catalog from YAML. Exposed for tests and tooling.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse feature catalog: %w", err)
	}
	features := make(map[string]Feature, len(file.Features))
	for _, f := range file.Features {
		if err := validation.ValidateFeatureName(f.Name); err != nil {
			return nil, fmt.Errorf("feature catalog entry %q: %w", f.Name, err)
		}
		if f.Cost <= 0 {
			return nil, fmt.Errorf("feature %q has non-positive cost %d", f.Name, f.Cost)
		}
		if _, dup := features[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q in catalog", f.Name)
		}
		features[f.Name] = f
	}
	return &Catalog{features: features}, nil
}

// Cost returns the token cost for a feature and whether it exists.
func (c *Catalog) Cost(name string) (int64, bool) {
	f, ok := c.features[name]
	return f.Cost, ok
}

// Features returns all features sorted by name.
func (c *Catalog) Features() []Feature {
	out := make([]Feature, 0, len(c.features))
	for _, f := range c.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
