package strategy

import (
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

// fallbackPattern is §4.4's adaptive default: non-greedy, stops at the
// first natural boundary. Go's stdlib regexp (RE2) cannot express the
// lookahead assertion, which is why this strategy is built on
// github.com/dlclark/regexp2 instead (see SPEC_FULL.md §11). The greedy
// catch-all ".+" is forbidden: it dominates every learned pattern (§9).
const fallbackPattern = `.{1,200}?(?=\n|$|[.,:;])`

// learnedMatchShortCircuit is the confidence above which a learned
// pattern's match is taken without trying the fallback.
const learnedMatchShortCircuit = 0.7

// learnedWeakThreshold and fallbackWeakThreshold gate the "return None to
// trigger a learning opportunity" branch of §4.4.
const (
	learnedWeakThreshold  = 0.3
	fallbackWeakThreshold = 0.5
)

// RuleStrategy implements §4.4: label-proximity candidate collection,
// boundary enforcement at next_field_y, and a learned-pattern-then-
// fallback regex policy.
type RuleStrategy struct{}

// NewRuleStrategy constructs the rule-based strategy.
func NewRuleStrategy() *RuleStrategy { return &RuleStrategy{} }

func (r *RuleStrategy) Type() fieldvalue.StrategyType { return fieldvalue.RuleBased }

func (r *RuleStrategy) Extract(fieldCfg *template.FieldConfig, pageWords []word.Word) (*Result, error) {
	loc, ok := primaryLocation(fieldCfg)
	if !ok {
		return nil, nil
	}

	candidates := collectCandidateWords(pageWords, loc)
	if len(candidates) == 0 {
		return nil, nil
	}
	text := joinWords(candidates)

	// Learned patterns are tried first, in declared priority order. A
	// strong learned match short-circuits the fallback entirely; a weak
	// one is remembered so the "every learned pattern scored below 0.3"
	// check below can still fire.
	bestLearnedScore := -1.0
	for _, learned := range fieldCfg.LearnedPatterns {
		match, score, err := tryPattern(learned, text, specificity(learned))
		if err != nil || match == "" {
			continue
		}
		if score > bestLearnedScore {
			bestLearnedScore = score
		}
		if score >= learnedMatchShortCircuit {
			return &Result{Value: match, Confidence: score}, nil
		}
	}

	pattern := effectivePattern(fieldCfg)
	match, score, err := tryPattern(pattern, text, specificity(pattern))
	if err != nil {
		return nil, err
	}
	if match == "" {
		return nil, nil
	}

	learnedAllWeak := len(fieldCfg.LearnedPatterns) == 0 || bestLearnedScore < learnedWeakThreshold
	if learnedAllWeak && score < fallbackWeakThreshold {
		return nil, nil
	}

	return &Result{Value: match, Confidence: score}, nil
}

// effectivePattern implements §4.4's adaptive default pattern policy.
func effectivePattern(fieldCfg *template.FieldConfig) string {
	if fieldCfg.ValidationRules.Pattern != "" {
		return fieldCfg.ValidationRules.Pattern
	}
	if fieldCfg.Pattern != "" {
		return fieldCfg.Pattern
	}
	return fallbackPattern
}

// tryPattern evaluates one regex against text and scores the match per
// §4.4: confidence = min(1.0, 0.6 + 0.1*pattern_specificity).
func tryPattern(pattern, text string, specificity float64) (string, float64, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return "", 0, err
	}
	m, err := re.FindStringMatch(text)
	if err != nil || m == nil {
		return "", 0, err
	}
	confidence := 0.6 + 0.1*specificity
	if confidence > 1.0 {
		confidence = 1.0
	}
	return strings.TrimSpace(m.String()), confidence, nil
}

// specificity is a structural proxy for how constrained a pattern is:
// more literal (non-metacharacter) content scores higher, capped at 4 so
// confidence never exceeds min(1.0, 0.6+0.1*4).
func specificity(pattern string) float64 {
	literal := 0
	for _, r := range pattern {
		switch r {
		case '.', '*', '+', '?', '(', ')', '[', ']', '{', '}', '|', '^', '$', '\\':
			continue
		default:
			literal++
		}
	}
	score := float64(literal) / 5.0
	if score > 4 {
		score = 4
	}
	return score
}

// collectCandidateWords gathers words to the right of the label on its
// line and on wrapped continuation lines, stopping at the first word
// whose Y reaches next_field_y (§4.4's boundary enforcement).
func collectCandidateWords(pageWords []word.Word, loc template.FieldLocation) []word.Word {
	ordered := word.SortedByPosition(pageWords)
	label := loc.Context.LabelPosition

	var out []word.Word
	for _, w := range ordered {
		if loc.Context.NextFieldY != nil && w.Y0 >= *loc.Context.NextFieldY {
			break
		}
		onLabelLineOrBelow := w.Y0 >= label.Y0-lineTolerance
		toRightOfLabel := w.Y0 <= label.Y1+lineTolerance && w.X0 >= label.X1
		wrappedContinuation := w.Y0 > label.Y1+lineTolerance
		if onLabelLineOrBelow && (toRightOfLabel || wrappedContinuation) {
			out = append(out, w)
		}
	}
	return out
}

const lineTolerance = 3.0

func joinWords(words []word.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}
