// Package strategy implements the three cooperating extraction strategies
// of §4.4-§4.6: rule-based, position-based and CRF. Each is modeled as a
// variant of a common interface (§9's "enumerated variant with a
// registry"), invoked unconditionally and exhaustively by the Hybrid
// Arbiter.
package strategy

import (
	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

// Result is one strategy's raw outcome for a field, before the arbiter
// wraps it with provenance metadata.
type Result struct {
	Value      string
	Confidence float64
}

// Strategy is the common operation every variant implements:
// extract(pdf, field_config, words) -> Option<FieldValue> from §9,
// specialized here to a single page's already-tokenized words.
type Strategy interface {
	Type() fieldvalue.StrategyType
	Extract(fieldCfg *template.FieldConfig, pageWords []word.Word) (*Result, error)
}

// primaryLocation returns the field's first declared location. Templates
// may in principle describe a field at more than one location (one per
// sample page family); this module extracts against the first, the
// common case of a single-page template.
func primaryLocation(fieldCfg *template.FieldConfig) (template.FieldLocation, bool) {
	if len(fieldCfg.Locations) == 0 {
		return template.FieldLocation{}, false
	}
	return fieldCfg.Locations[0], true
}

// Registry maps each strategy variant to its implementation, so the
// arbiter can iterate the known set exhaustively without open
// polymorphism (§9).
type Registry struct {
	strategies map[fieldvalue.StrategyType]Strategy
}

// NewRegistry builds a registry from the given strategies, keyed by their
// own declared Type().
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: map[fieldvalue.StrategyType]Strategy{}}
	for _, s := range strategies {
		r.strategies[s.Type()] = s
	}
	return r
}

// Get returns the strategy for a variant, if registered (CRF is absent
// until a model exists for the template, per §4.7).
func (r *Registry) Get(t fieldvalue.StrategyType) (Strategy, bool) {
	s, ok := r.strategies[t]
	return s, ok
}

// Enabled returns every registered variant, in the canonical order of
// fieldvalue.AllStrategyTypes.
func (r *Registry) Enabled() []fieldvalue.StrategyType {
	var out []fieldvalue.StrategyType
	for _, t := range fieldvalue.AllStrategyTypes {
		if _, ok := r.strategies[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
