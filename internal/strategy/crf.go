package strategy

import (
	"fmt"
	"strings"

	"github.com/agen/fieldextract/internal/crf"
	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/logging"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

// ModelSource resolves the current CRF model for a template, reloading it
// when its backing file changes (§5: "loaded lazily and re-loaded when
// its file's mtime changes"). The CRF Strategy never owns model I/O
// itself; it only asks for the current handle.
type ModelSource interface {
	Current(templateID string) (*crf.Model, bool)
}

// CRFStrategy implements §4.6: inference for one target field, plus the
// two adaptive cleaning rules applied before returning a value.
type CRFStrategy struct {
	models ModelSource
	log    *logging.Logger
}

// NewCRFStrategy constructs the CRF strategy over a model source. log may
// be nil, in which case diagnostics are dropped silently (tests commonly
// do this).
func NewCRFStrategy(models ModelSource, log *logging.Logger) *CRFStrategy {
	return &CRFStrategy{models: models, log: log}
}

func (c *CRFStrategy) Type() fieldvalue.StrategyType { return fieldvalue.CRF }

// ExtractForTemplate is the entry point the arbiter actually calls: unlike
// the other two strategies, CRF inference needs the template id to look
// up the right model, not just the field config.
func (c *CRFStrategy) ExtractForTemplate(templateID string, fieldCfg *template.FieldConfig, pageWords []word.Word) (*Result, error) {
	model, ok := c.models.Current(templateID)
	if !ok || model == nil {
		c.debugf("no model available for template %q", templateID)
		return nil, nil
	}
	if !model.HasField(fieldCfg.FieldName) {
		c.debugf("model for template %q was not trained on field %q", templateID, fieldCfg.FieldName)
		return nil, nil
	}

	labels, marginals, ordered := crf.Predict(model, pageWords, fieldCfg.FieldName)
	spans := crf.Spans(model, labels, marginals, ordered, fieldCfg.FieldName)
	best, ok := crf.BestSpan(spans)
	if !ok {
		c.logNoSpan(fieldCfg.FieldName, labels)
		return nil, nil
	}

	loc, hasLoc := primaryLocation(fieldCfg)
	words := best.Words
	if hasLoc {
		words = enforceHardBoundary(words, loc.Context.NextFieldY)
	}
	if len(words) == 0 {
		return nil, nil
	}

	value := joinWords(words)
	if hasLoc {
		value = stripLabelText(value, loc.Context.Label)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	return &Result{Value: value, Confidence: best.MeanMarginal}, nil
}

// Extract satisfies the Strategy interface for registries that iterate by
// type alone; the arbiter always calls ExtractForTemplate directly
// because CRF inference is the one strategy that needs a template id.
func (c *CRFStrategy) Extract(fieldCfg *template.FieldConfig, pageWords []word.Word) (*Result, error) {
	return nil, fmt.Errorf("crf: Extract called without a template id, use ExtractForTemplate")
}

// enforceHardBoundary implements §4.6 rule 2: abort at the first word
// whose Y reaches next_field_y, even if the CRF span continued past it.
func enforceHardBoundary(words []word.Word, nextFieldY *float64) []word.Word {
	if nextFieldY == nil {
		return words
	}
	out := make([]word.Word, 0, len(words))
	for _, w := range words {
		if w.Y0 >= *nextFieldY {
			break
		}
		out = append(out, w)
	}
	return out
}

// stripLabelText implements §4.6 rule 1: if the extracted string contains
// the field's label text as a substring, keep only what follows it. This
// is how leakage like "pada tanggal 31 May 2025 di Jl. Suryakencana"
// (label "di") is cleaned to "Jl. Suryakencana" (§8 scenario 1).
func stripLabelText(value, label string) string {
	if label == "" {
		return value
	}
	lowerValue := strings.ToLower(value)
	lowerLabel := strings.ToLower(strings.TrimSpace(label))
	if lowerLabel == "" {
		return value
	}
	idx := strings.LastIndex(lowerValue, lowerLabel)
	if idx < 0 {
		return value
	}
	return value[idx+len(lowerLabel):]
}

func (c *CRFStrategy) debugf(format string, args ...any) {
	if c.log != nil {
		c.log.Debug(format, args...)
	}
}

// logNoSpan produces the diagnostic dump §4.6 requires when inference
// finds no span for the target field: counts of predicted-label kinds,
// whether any label mentioning the field was produced, and a label
// sample — this is how silent regressions are discovered (§9).
func (c *CRFStrategy) logNoSpan(fieldName string, labels []string) {
	if c.log == nil {
		return
	}
	counts := map[string]int{}
	mentionsField := false
	upper := strings.ToUpper(fieldName)
	for _, l := range labels {
		counts[l]++
		if strings.Contains(l, upper) {
			mentionsField = true
		}
	}
	sample := labels
	if len(sample) > 20 {
		sample = sample[:20]
	}
	c.log.Debug("crf strategy: no span found for field %q; mentions_field=%v label_counts=%v sample=%v",
		fieldName, mentionsField, counts, sample)
}
