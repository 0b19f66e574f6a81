// Package template holds the per-template field configuration (§3) and
// the Template Analyzer (§4.1) that derives it from a marked-up sample PDF.
package template

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldConfig describes one field of a template.
type FieldConfig struct {
	FieldName       string          `yaml:"field_name"`
	Pattern         string          `yaml:"pattern,omitempty"`
	ValidationRules ValidationRules `yaml:"validation_rules,omitempty"`
	Locations       []FieldLocation `yaml:"locations"`
	// LearnedPatterns are regexes mined from historical corrections for
	// this field (§4.4), tried in priority order before the fallback
	// pattern. They are read from the template's YAML; neither the
	// Template Analyzer nor the Retrainer writes them.
	LearnedPatterns []string `yaml:"learned_patterns,omitempty"`
}

// ValidationRules carries the adaptive-default pattern policy of §4.4:
// an explicit pattern, when present, always wins over the fallback.
type ValidationRules struct {
	Pattern string `yaml:"pattern,omitempty"`
}

// FieldLocation anchors a field to one page of a template sample.
type FieldLocation struct {
	Page       int     `yaml:"page"`
	MarkerBBox BBox    `yaml:"marker_bbox"`
	Context    Context `yaml:"context"`
}

// BBox is a page-relative bounding box, shared with word.Word's layout.
type BBox struct {
	X0 float64 `yaml:"x0"`
	Y0 float64 `yaml:"y0"`
	X1 float64 `yaml:"x1"`
	Y1 float64 `yaml:"y1"`
}

// Context carries the label and boundary information a field's location
// was analyzed with. NextFieldY is nil when this field is the last on its
// page — §3 calls this out explicitly because it disables the hard
// boundary strategies rely on.
type Context struct {
	Label         string   `yaml:"label"`
	LabelPosition BBox     `yaml:"label_position"`
	WordsBefore   []string `yaml:"words_before,omitempty"`
	WordsAfter    []string `yaml:"words_after,omitempty"`
	NextFieldY    *float64 `yaml:"next_field_y,omitempty"`
	TypicalLength *float64 `yaml:"typical_length,omitempty"`
}

// Config is the persistent per-template configuration (§3 TemplateConfig).
type Config struct {
	Fields map[string]*FieldConfig `yaml:"fields"`
}

// Load reads a Config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse template config: %w", err)
	}
	if cfg.Fields == nil {
		cfg.Fields = map[string]*FieldConfig{}
	}
	return &cfg, nil
}

// Save persists a Config as YAML, overwriting any existing file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal template config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write template config: %w", err)
	}
	return nil
}

// Field looks up a field by name.
func (c *Config) Field(name string) (*FieldConfig, bool) {
	fc, ok := c.Fields[name]
	return fc, ok
}

// FieldNames returns every declared field name, used by the pipeline to
// build the CRF label set for retraining and by the CLI's train
// subcommand as its default field list.
func (c *Config) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for n := range c.Fields {
		names = append(names, n)
	}
	return names
}
