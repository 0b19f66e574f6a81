// Package arbiter implements the Hybrid Arbiter (§4.7): it runs every
// enabled strategy for a field unconditionally, scores the accepted
// candidates with adaptive weights derived from the Strategy-Performance
// Tracker, and applies the confidence-override rule before handing the
// winner to the Adaptive Post-Processor.
package arbiter

import (
	"fmt"
	"math"

	"github.com/agen/fieldextract/internal/config"
	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/logging"
	"github.com/agen/fieldextract/internal/performance"
	"github.com/agen/fieldextract/internal/postprocess"
	"github.com/agen/fieldextract/internal/strategy"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

// CatalogueSource builds or retrieves the learned post-processing
// catalogue for one (template, field), without the arbiter needing to
// know how it's cached or mined.
type CatalogueSource interface {
	Catalogue(templateID, fieldName string) *postprocess.Catalogue
}

// Arbiter implements §4.7.
type Arbiter struct {
	rule     strategy.Strategy
	position strategy.Strategy
	crf      *strategy.CRFStrategy

	perf       performance.Store
	catalogues CatalogueSource
	settings   *config.Settings
	log        *logging.Logger
}

// New constructs an Arbiter. crf may be nil when no model exists yet for
// any template (§4.7: "CRF-if-model-exists").
func New(rule, position strategy.Strategy, crf *strategy.CRFStrategy, perf performance.Store, catalogues CatalogueSource, settings *config.Settings, log *logging.Logger) *Arbiter {
	if settings == nil {
		settings = config.Default()
	}
	return &Arbiter{rule: rule, position: position, crf: crf, perf: perf, catalogues: catalogues, settings: settings, log: log}
}

// candidate is one strategy's scored outcome for a field.
type candidate struct {
	strategyType fieldvalue.StrategyType
	result       *strategy.Result
	err          error
	accepted     bool
	combined     float64
}

// ExtractField runs every enabled strategy for fieldCfg, arbitrates among
// the accepted candidates, and returns the winning FieldValue with full
// provenance, post-processed. A nil return means no strategy produced an
// acceptable value.
func (a *Arbiter) ExtractField(templateID string, fieldCfg *template.FieldConfig, pageWords []word.Word) (*fieldvalue.FieldValue, error) {
	candidates := a.runAll(templateID, fieldCfg, pageWords)

	attempted := make(map[fieldvalue.StrategyType]fieldvalue.AttemptRecord, len(candidates))
	for _, c := range candidates {
		rec := fieldvalue.AttemptRecord{Success: c.result != nil}
		if c.result != nil {
			rec.Confidence = c.result.Confidence
			rec.Value = c.result.Value
		}
		if c.err != nil {
			rec.Error = c.err.Error()
		}
		attempted[c.strategyType] = rec
	}

	accepted := a.scoreAndFilter(templateID, fieldCfg.FieldName, candidates)
	if len(accepted) == 0 {
		return nil, nil
	}

	winner := pickBest(accepted)
	winner = a.applyConfidenceOverride(templateID, fieldCfg.FieldName, winner, accepted)

	catalogue := a.catalogues.Catalogue(templateID, fieldCfg.FieldName)
	cleaned := winner.result.Value
	if catalogue != nil {
		cleaned = catalogue.Apply(cleaned)
	}

	fv := &fieldvalue.FieldValue{
		Value:      cleaned,
		Confidence: winner.result.Confidence,
		Method:     winner.strategyType,
		Metadata: fieldvalue.Metadata{
			AllStrategiesAttempted: attempted,
			SelectedBy:             string(winner.strategyType),
		},
	}
	return fv, nil
}

// runAll invokes every enabled strategy unconditionally and catches
// per-strategy exceptions (§4.7, §7: "caught per-strategy; that strategy
// contributes None plus an error annotation... other strategies proceed").
func (a *Arbiter) runAll(templateID string, fieldCfg *template.FieldConfig, pageWords []word.Word) []candidate {
	var out []candidate

	out = append(out, a.safeRun(fieldvalue.RuleBased, func() (*strategy.Result, error) {
		return a.rule.Extract(fieldCfg, pageWords)
	}))
	out = append(out, a.safeRun(fieldvalue.PositionBased, func() (*strategy.Result, error) {
		return a.position.Extract(fieldCfg, pageWords)
	}))
	if a.crf != nil {
		out = append(out, a.safeRun(fieldvalue.CRF, func() (*strategy.Result, error) {
			return a.crf.ExtractForTemplate(templateID, fieldCfg, pageWords)
		}))
	}
	return out
}

func (a *Arbiter) safeRun(t fieldvalue.StrategyType, run func() (*strategy.Result, error)) (c candidate) {
	c.strategyType = t
	defer func() {
		if r := recover(); r != nil {
			c.result = nil
			c.err = fmt.Errorf("strategy %s panicked: %v", t, r)
			a.debugf("strategy %s panicked: %v", t, r)
		}
	}()
	res, err := run()
	c.result, c.err = res, err
	if err != nil {
		a.debugf("strategy %s returned an error: %v", t, err)
	}
	return c
}

// acceptanceThreshold implements §4.7's adaptive threshold table.
func acceptanceThreshold(attempts int, accuracy float64) float64 {
	switch {
	case attempts >= 10 && accuracy >= 0.7:
		return 0.3
	case attempts >= 5 && accuracy >= 0.5:
		return 0.4
	default:
		return 0.5
	}
}

// scoringWeights implements §4.7's adaptive weight table.
func scoringWeights(attempts int) (wConf, wStrat, wPerf float64) {
	switch {
	case attempts >= 10:
		return 0.20, 0.10, 0.70
	case attempts >= 5:
		return 0.25, 0.15, 0.60
	default:
		return 0.40, 0.30, 0.30
	}
}

// scoreAndFilter applies the acceptance threshold and computes each
// surviving candidate's combined score.
func (a *Arbiter) scoreAndFilter(templateID, fieldName string, candidates []candidate) []candidate {
	var out []candidate
	for _, c := range candidates {
		if c.result == nil {
			continue
		}
		snap := performance.Read(a.perf, templateID, fieldName, c.strategyType)
		threshold := acceptanceThreshold(snap.Attempts, snap.Accuracy)
		if c.result.Confidence < threshold {
			continue
		}
		wConf, wStrat, wPerf := scoringWeights(snap.Attempts)
		stratWeight := a.strategyWeight(templateID, c.strategyType)
		c.combined = wConf*c.result.Confidence + wStrat*stratWeight + wPerf*snap.Accuracy
		c.accepted = true
		out = append(out, c)
	}
	return out
}

// strategyWeight implements §4.7's per-strategy strategy_weight: rule and
// position default to a neutral 0.5; CRF's weight is adaptive on the
// template's average CRF accuracy across fields, blended toward 0.5 as
// the template has fewer observed fields.
func (a *Arbiter) strategyWeight(templateID string, t fieldvalue.StrategyType) float64 {
	if t != fieldvalue.CRF {
		return 0.5
	}
	records, err := a.perf.Records(templateID)
	if err != nil || len(records) == 0 {
		return 0.5
	}

	sum, count := 0.0, 0
	for _, r := range records {
		if r.StrategyType != fieldvalue.CRF {
			continue
		}
		sum += r.Accuracy()
		count++
	}
	if count == 0 {
		return 0.5
	}
	avg := sum / float64(count)
	raw := clamp(0.3+0.6*avg, 0.3, 0.9)

	factor := math.Min(1.0, float64(count)/10.0)
	return factor*raw + (1-factor)*0.5
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pickBest(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.combined > best.combined {
			best = c
		}
	}
	return best
}

// applyConfidenceOverride implements §4.7's override rule: if any other
// accepted candidate's confidence exceeds the winner's by more than the
// margin, it replaces the winner. §9 Open Question (b) is decided here:
// the margin scales with the field's historical confidence variance
// (approximated as the variance of per-strategy historical accuracy for
// this field) when OverrideMarginVarianceScale is nonzero; see DESIGN.md.
func (a *Arbiter) applyConfidenceOverride(templateID, fieldName string, winner candidate, candidates []candidate) candidate {
	margin := a.overrideMargin(templateID, fieldName)
	for _, c := range candidates {
		if c.strategyType == winner.strategyType {
			continue
		}
		if c.result.Confidence > winner.result.Confidence+margin {
			winner = c
		}
	}
	return winner
}

func (a *Arbiter) overrideMargin(templateID, fieldName string) float64 {
	base := a.settings.ConfidenceOverrideMargin
	scale := a.settings.OverrideMarginVarianceScale
	if scale == 0 {
		return base
	}

	var accuracies []float64
	for _, t := range fieldvalue.AllStrategyTypes {
		snap := performance.Read(a.perf, templateID, fieldName, t)
		if snap.Attempts > 0 {
			accuracies = append(accuracies, snap.Accuracy)
		}
	}
	if len(accuracies) < 2 {
		return base
	}
	return base * (1 + scale*variance(accuracies))
}

func variance(xs []float64) float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		d := x - mean
		v += d * d
	}
	return v / float64(len(xs))
}

func (a *Arbiter) debugf(format string, args ...any) {
	if a.log != nil {
		a.log.Debug(format, args...)
	}
}
