package domain

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// CatalogDefinition is the seed form of the catalog, before ids are assigned.
type CatalogDefinition struct {
	Stages []StageDefinition `yaml:"stages"`
}

// StageDefinition describes one stage in a catalog file.
type StageDefinition struct {
	Name         string                  `yaml:"name"`
	Order        int                     `yaml:"order"`
	Description  string                  `yaml:"description"`
	Kind         StageKind               `yaml:"kind"`
	Requirements []RequirementDefinition `yaml:"requirements"`
}

// RequirementDefinition describes one requirement in a catalog file.
// Mandatory defaults to true when omitted.
type RequirementDefinition struct {
	Type        RequirementType `yaml:"type"`
	Name        string          `yaml:"name"`
	Mandatory   *bool           `yaml:"mandatory"`
	Description string          `yaml:"description"`
}

// IsMandatory applies the default.
func (r RequirementDefinition) IsMandatory() bool {
	return r.Mandatory == nil || *r.Mandatory
}

// DefaultCatalogDefinition returns the built-in permit catalog.
func DefaultCatalogDefinition() (CatalogDefinition, error) {
	return ParseCatalogDefinition(defaultCatalogYAML)
}

// LoadCatalogDefinition reads a catalog file, or the built-in catalog when path is empty.
func LoadCatalogDefinition(path string) (CatalogDefinition, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalogDefinition()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return CatalogDefinition{}, fmt.Errorf("read stage catalog: %w", err)
	}
	return ParseCatalogDefinition(raw)
}

// ParseCatalogDefinition decodes and validates a YAML catalog.
func ParseCatalogDefinition(raw []byte) (CatalogDefinition, error) {
	var def CatalogDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return CatalogDefinition{}, fmt.Errorf("decode stage catalog: %w", err)
	}
	if err := def.Validate(); err != nil {
		return CatalogDefinition{}, err
	}
	return def, nil
}

// Validate checks ordering, names and enum values.
func (d CatalogDefinition) Validate() error {
	if len(d.Stages) == 0 {
		return fmt.Errorf("stage catalog has no stages")
	}
	names := make(map[string]struct{}, len(d.Stages))
	for i := range d.Stages {
		s := &d.Stages[i]
		if s.Order != i+1 {
			return fmt.Errorf("stage %q has order %d, expected %d", s.Name, s.Order, i+1)
		}
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stage %d has no name", s.Order)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		names[s.Name] = struct{}{}
		kind, err := ParseStageKind(string(s.Kind))
		if err != nil {
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
		s.Kind = kind
		for _, r := range s.Requirements {
			if _, err := ParseRequirementType(string(r.Type)); err != nil {
				return fmt.Errorf("stage %q requirement %q: %w", s.Name, r.Name, err)
			}
			if strings.TrimSpace(r.Name) == "" {
				return fmt.Errorf("stage %q has a requirement without a name", s.Name)
			}
		}
	}
	return nil
}
