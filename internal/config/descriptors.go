package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"threatfeed/pkg/dedup"
	"threatfeed/pkg/record"
)

// SourceDescriptor is one source's adapter wiring and authority weight,
// as carried in the descriptor YAML file. AuthorityWeight is a pointer so
// "absent from the file" (keep the compiled-in pkg/record table entry)
// is distinguishable from "explicitly zero". Strategy is likewise a
// pointer: pipeline.py configures a distinct DuplicateStrategy per
// source rather than one global strategy (only nvd sets merge_fields),
// so a descriptor with no strategy block falls back to the
// orchestrator-wide default instead of silently merging.
type SourceDescriptor struct {
	Name            string          `yaml:"name"`
	Enabled         bool            `yaml:"enabled"`
	Type            string          `yaml:"type"` // "http", "nvd" or "static"
	BaseURL         string          `yaml:"base_url"`
	SinceParam      string          `yaml:"since_param"`
	TimeLayout      string          `yaml:"time_layout"`
	APIKeyRef       string          `yaml:"api_key_ref"`
	APIKeyParam     string          `yaml:"api_key_param"`
	AuthorityWeight *int            `yaml:"authority_weight"`
	Strategy        *dedup.Strategy `yaml:"strategy"`
}

// Descriptors is the full set of configured sources, loaded from the
// descriptor file named by PipelineConfig.DescriptorsFile.
type Descriptors struct {
	Sources []SourceDescriptor `yaml:"sources"`
}

// LoadDescriptors parses the descriptor YAML file at path.
func LoadDescriptors(path string) (*Descriptors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptors file %q: %w", path, err)
	}

	var d Descriptors
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing descriptors file %q: %w", path, err)
	}
	return &d, nil
}

// Enabled returns the descriptors with Enabled set, preserving order.
func (d *Descriptors) Enabled() []SourceDescriptor {
	var out []SourceDescriptor
	for _, s := range d.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// ApplyAuthorityOverrides pushes every descriptor's explicit authority
// weight into pkg/record's live override table, reinterpreting the
// source descriptor's authority weight as hot-reloadable configuration
// rather than a compiled-in constant.
func ApplyAuthorityOverrides(d *Descriptors) {
	overrides := make(map[string]int)
	for _, s := range d.Sources {
		if s.AuthorityWeight != nil {
			overrides[s.Name] = *s.AuthorityWeight
		}
	}
	record.SetAuthorityOverrides(overrides)
}
