// Package postprocess implements the Adaptive Post-Processor (§4.8): it
// learns structural-noise patterns (brackets, quotes, trailing
// punctuation, frequent prefix/suffix tokens) from historical corrections
// and applies only the ones that clear a per-field frequency threshold.
// Nothing here is hardcoded to a specific string; every rule is
// parameterized by what the history actually shows for that field.
package postprocess

import (
	"regexp"
	"strings"
)

// minPatternFrequency is §4.8's "≥ 10% of corrections" gate: a structural
// pattern is applied only when it was observed at least this often.
const minPatternFrequency = 0.10

// Catalogue is the learned pattern set for one (template, field): one
// struct-wrapper frequency count per structural family, plus frequent
// prefix/suffix token tallies.
type Catalogue struct {
	Samples int

	ParenthesesBoth  int
	ParenthesesStart int
	ParenthesesEnd   int
	QuotesBoth       int
	TrailingComma    int
	TrailingPeriod   int

	PrefixCounts map[string]int
	SuffixCounts map[string]int
}

// NewCatalogue returns an empty catalogue ready for Mine.
func NewCatalogue() *Catalogue {
	return &Catalogue{PrefixCounts: map[string]int{}, SuffixCounts: map[string]int{}}
}

// Mine folds one (original, corrected) correction pair into the
// catalogue, per §4.8's mining rule: compare the two; if corrected is a
// clean leading/trailing subset of original, record the delta as a
// prefix/suffix token or a structural wrapper, and tally it.
func (c *Catalogue) Mine(original, corrected string) {
	c.Samples++

	trimmedOriginal := strings.TrimSpace(original)
	trimmedCorrected := strings.TrimSpace(corrected)

	if hasParens(trimmedOriginal) && !hasParens(trimmedCorrected) {
		switch {
		case strings.HasPrefix(trimmedOriginal, "(") && strings.HasSuffix(trimmedOriginal, ")"):
			c.ParenthesesBoth++
		case strings.HasPrefix(trimmedOriginal, "("):
			c.ParenthesesStart++
		case strings.HasSuffix(trimmedOriginal, ")"):
			c.ParenthesesEnd++
		}
	}
	if hasQuotes(trimmedOriginal) && !hasQuotes(trimmedCorrected) {
		c.QuotesBoth++
	}
	if strings.HasSuffix(trimmedOriginal, ",") && !strings.HasSuffix(trimmedCorrected, ",") {
		c.TrailingComma++
	}
	if strings.HasSuffix(trimmedOriginal, ".") && !strings.HasSuffix(trimmedCorrected, ".") {
		c.TrailingPeriod++
	}

	if prefix, ok := strippedPrefix(trimmedOriginal, trimmedCorrected); ok {
		c.PrefixCounts[prefix]++
	}
	if suffix, ok := strippedSuffix(trimmedOriginal, trimmedCorrected); ok {
		c.SuffixCounts[suffix]++
	}
}

// frequency reports how often count was observed across every mined
// sample, the ratio §4.8's conditional-application gate compares against
// minPatternFrequency.
func (c *Catalogue) frequency(count int) float64 {
	if c.Samples == 0 {
		return 0
	}
	return float64(count) / float64(c.Samples)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Apply cleans value per §4.8's fixed order: strip wrapper
// brackets/quotes if both sides present -> strip learned structural
// start/end -> strip learned prefix tokens -> strip learned suffix
// tokens -> strip trailing punctuation -> collapse whitespace. Every
// stripping step is conditional on the pattern's historical frequency for
// this field being >= minPatternFrequency; only the outer trim and the
// final whitespace collapse always run.
func (c *Catalogue) Apply(value string) string {
	out := strings.TrimSpace(value)

	if c.frequency(c.ParenthesesBoth) >= minPatternFrequency {
		out = stripWrapper(out, "(", ")")
	}
	if c.frequency(c.QuotesBoth) >= minPatternFrequency {
		out = stripWrapper(out, `"`, `"`)
		out = stripWrapper(out, "'", "'")
	}
	if c.frequency(c.ParenthesesStart) >= minPatternFrequency {
		out = strings.TrimPrefix(out, "(")
	}
	if c.frequency(c.ParenthesesEnd) >= minPatternFrequency {
		out = strings.TrimSuffix(out, ")")
	}

	out = c.stripFrequentPrefix(out)
	out = c.stripFrequentSuffix(out)

	if c.frequency(c.TrailingComma) >= minPatternFrequency {
		out = strings.TrimSuffix(strings.TrimSpace(out), ",")
	}
	if c.frequency(c.TrailingPeriod) >= minPatternFrequency {
		out = strings.TrimSuffix(strings.TrimSpace(out), ".")
	}

	out = whitespaceRun.ReplaceAllString(strings.TrimSpace(out), " ")
	return out
}

func (c *Catalogue) stripFrequentPrefix(value string) string {
	for token, count := range c.PrefixCounts {
		if c.frequency(count) < minPatternFrequency {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if strings.HasPrefix(trimmed, token) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, token))
		}
	}
	return value
}

func (c *Catalogue) stripFrequentSuffix(value string) string {
	for token, count := range c.SuffixCounts {
		if c.frequency(count) < minPatternFrequency {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if strings.HasSuffix(trimmed, token) {
			return strings.TrimSpace(strings.TrimSuffix(trimmed, token))
		}
	}
	return value
}

func hasParens(s string) bool {
	return strings.Contains(s, "(") || strings.Contains(s, ")")
}

func hasQuotes(s string) bool {
	return strings.ContainsAny(s, `"'`)
}

func stripWrapper(s, open, close string) string {
	if strings.HasPrefix(s, open) && strings.HasSuffix(s, close) && len(s) >= len(open)+len(close) {
		return strings.TrimSpace(s[len(open) : len(s)-len(close)])
	}
	return s
}

// strippedPrefix reports the leading token removed from original to
// produce corrected, when corrected is a clean suffix of original
// (original = prefix + corrected, with the boundary on a word break).
func strippedPrefix(original, corrected string) (string, bool) {
	if corrected == "" || !strings.HasSuffix(original, corrected) || original == corrected {
		return "", false
	}
	prefix := strings.TrimSpace(strings.TrimSuffix(original, corrected))
	if prefix == "" || strings.ContainsAny(prefix, "\n") {
		return "", false
	}
	return prefix, true
}

// strippedSuffix is strippedPrefix's mirror for trailing deltas.
func strippedSuffix(original, corrected string) (string, bool) {
	if corrected == "" || !strings.HasPrefix(original, corrected) || original == corrected {
		return "", false
	}
	suffix := strings.TrimSpace(strings.TrimPrefix(original, corrected))
	if suffix == "" || strings.ContainsAny(suffix, "\n") {
		return "", false
	}
	return suffix, true
}
