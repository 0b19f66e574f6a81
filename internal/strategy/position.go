package strategy

import (
	"strings"

	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

// positionXSlack widens the geometric window slightly left of the label's
// own x0, so a value that starts a few points left of the label (common
// with right-aligned labels) is not excluded (§4.5).
const positionXSlack = 10.0

// positionFoundConfidence is the fixed confidence this strategy reports
// when it finds any word in its window. It never attempts a partial
// or graded score: §4.5 treats position-based extraction as a coarse,
// template-geometry-only fallback, not a scored match.
const positionFoundConfidence = 0.9

// PositionStrategy implements §4.5: a purely geometric extraction that
// takes every word between the label's line and the next field's y
// position, regardless of content. It carries no regex and no learned
// state, which makes it the cheapest strategy to evaluate and a useful
// cross-check against the rule-based and CRF strategies.
type PositionStrategy struct{}

// NewPositionStrategy constructs the position-based strategy.
func NewPositionStrategy() *PositionStrategy { return &PositionStrategy{} }

func (p *PositionStrategy) Type() fieldvalue.StrategyType { return fieldvalue.PositionBased }

func (p *PositionStrategy) Extract(fieldCfg *template.FieldConfig, pageWords []word.Word) (*Result, error) {
	loc, ok := primaryLocation(fieldCfg)
	if !ok {
		return nil, nil
	}

	label := loc.Context.LabelPosition
	ordered := word.SortedByPosition(pageWords)

	var window []word.Word
	for _, w := range ordered {
		if w.Y0 < label.Y0 {
			continue
		}
		if loc.Context.NextFieldY != nil && w.Y0 >= *loc.Context.NextFieldY {
			continue
		}
		if w.X0 < label.X0-positionXSlack {
			continue
		}
		window = append(window, w)
	}

	if len(window) == 0 {
		return nil, nil
	}

	parts := make([]string, len(window))
	for i, w := range window {
		parts[i] = w.Text
	}
	return &Result{Value: strings.Join(parts, " "), Confidence: positionFoundConfidence}, nil
}
