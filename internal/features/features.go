// Package features implements the Feature Extractor (§4.2): for every word
// of a page it builds a dictionary of lexical, orthographic, positional,
// context-relative, boundary, pattern and field-aware features. The set is
// language-agnostic — no hardcoded vocabulary — and is the single contract
// shared by CRF training and inference.
package features

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

// Dict is one word's feature dictionary. CRF code treats values
// generically (bool, string, float64); callers type-assert as needed.
type Dict map[string]any

var dateLikePattern = regexp.MustCompile(`\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}`)

// lineBand is the Y-distance within which two words are on the same line,
// used for is_line_start/is_line_end.
const lineBand = 3.0

// newlineJump is the Y delta that marks a wrapped-line boundary for
// is_after_newline (§4.2).
const newlineJump = 10.0

// sameLineAsLabelBand is the Y delta under which a word is considered to
// share the label's line (§4.2's same_line_as_label).
const sameLineAsLabelBand = 10.0

// nearLabelBand bounds near_label; nearNextFieldBand/farFromNextFieldBand
// bound the next-field proximity features.
const (
	nearLabelBand         = 150.0
	nearNextFieldBand     = 20.0
	farFromNextFieldBand  = 50.0
)

// Options parameterizes one page's extraction run.
type Options struct {
	// LabelContext, when non-nil, enables the context-relative feature
	// family for the field this context belongs to.
	LabelContext *template.Context
	// NextFieldY, when non-nil, enables the boundary-from-next-field
	// feature family.
	NextFieldY *float64
	// TargetFields is the field-name set fired as target_field_* booleans.
	// Training passes every field the document has ground truth for;
	// inference passes exactly the one field being extracted (§4.2).
	TargetFields []string
}

// ExtractPage builds one feature dictionary per word of pageWords, which
// must all share the same page (callers use word.Page to select it).
func ExtractPage(pageWords []word.Word, opts Options) []Dict {
	width, height := word.PageBounds(pageWords)
	ordered := word.SortedByPosition(pageWords)

	lineStart := make(map[int]bool, len(ordered))
	lineEnd := make(map[int]bool, len(ordered))
	positionInLine := make(map[int]int, len(ordered))
	computeLineLayout(ordered, lineStart, lineEnd, positionInLine)

	dicts := make([]Dict, len(pageWords))
	for i, w := range pageWords {
		idx := indexOf(ordered, w)
		d := Dict{}
		addLexical(d, w.Text)
		addPositional(d, w, width, height, idx == 0, lineStart[idx], lineEnd[idx], positionInLine[idx])
		addBoundary(d, ordered, idx)
		addPattern(d, ordered, idx)
		if opts.LabelContext != nil {
			addLabelRelative(d, w, *opts.LabelContext)
		}
		if opts.NextFieldY != nil {
			addNextFieldBoundary(d, w, *opts.NextFieldY)
		}
		for _, f := range opts.TargetFields {
			d["target_field_"+strings.ToUpper(f)] = true
		}
		dicts[i] = d
	}
	return dicts
}

func indexOf(ordered []word.Word, w word.Word) int {
	for i, o := range ordered {
		if o == w {
			return i
		}
	}
	return -1
}

func computeLineLayout(ordered []word.Word, lineStart, lineEnd map[int]bool, positionInLine map[int]int) {
	n := len(ordered)
	pos := 0
	for i := 0; i < n; i++ {
		isStart := true
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if abs(ordered[j].Y0-ordered[i].Y0) <= lineBand && ordered[j].X0 < ordered[i].X0 {
				isStart = false
				break
			}
		}
		isEnd := true
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if abs(ordered[j].Y0-ordered[i].Y0) <= lineBand && ordered[j].X0 > ordered[i].X0 {
				isEnd = false
				break
			}
		}
		lineStart[i] = isStart
		lineEnd[i] = isEnd
		if isStart {
			pos = 0
		}
		positionInLine[i] = pos
		pos++
	}
}

func addLexical(d Dict, text string) {
	lower := strings.ToLower(text)
	d["word_lower"] = lower
	d["word_is_title"] = isTitleCase(text)
	d["word_is_upper"] = text != "" && text == strings.ToUpper(text) && strings.ToLower(text) != strings.ToUpper(text)
	d["word_is_digit"] = text != "" && allDigits(text)
	d["word_is_alpha"] = text != "" && allAlpha(text)
	d["has_digit"] = containsDigit(text)
	d["has_punct"] = containsPunct(text)

	for n := 1; n <= 3; n++ {
		d["prefix_"+strconv.Itoa(n)] = prefix(lower, n)
		d["suffix_"+strconv.Itoa(n)] = suffix(lower, n)
	}
	d["length_bucket"] = lengthBucket(len(text))
}

func addPositional(d Dict, w word.Word, width, height float64, isPageStart, isLineStart, isLineEnd bool, positionInLine int) {
	if width > 0 {
		d["x0_norm"] = w.X0 / width
	} else {
		d["x0_norm"] = 0.0
	}
	if height > 0 {
		d["y0_norm"] = w.Y0 / height
	} else {
		d["y0_norm"] = 0.0
	}
	d["is_page_start"] = isPageStart
	d["is_line_start"] = isLineStart
	d["is_line_end"] = isLineEnd
	d["position_in_line"] = positionInLine
}

func addBoundary(d Dict, ordered []word.Word, idx int) {
	var prev *word.Word
	if idx > 0 {
		prev = &ordered[idx-1]
	}
	isAfterPunct := prev != nil && endsWithPunct(prev.Text)
	isAfterNewline := prev != nil && (ordered[idx].Y0-prev.Y0) > newlineJump
	followsCapitalized := prev != nil && isCapitalizedWord(prev.Text)

	var isBeforePunct bool
	if idx+1 < len(ordered) {
		isBeforePunct = startsWithPunct(ordered[idx+1].Text)
	}

	d["is_after_punctuation"] = isAfterPunct
	d["is_before_punctuation"] = isBeforePunct
	d["is_after_newline"] = isAfterNewline
	d["follows_capitalized"] = followsCapitalized
}

func addPattern(d Dict, ordered []word.Word, idx int) {
	text := ordered[idx].Text
	d["is_year"] = isYear(text)
	d["is_day_number"] = isDayNumber(text)
	d["is_capitalized_word"] = isCapitalizedWord(text)
	d["is_date_separator"] = isDateSeparator(text)
	d["looks_like_date_pattern"] = dateLikePattern.MatchString(text)

	hasNumericContext := false
	if idx > 0 {
		p := ordered[idx-1].Text
		if allDigits(p) || isCapitalizedWord(p) {
			hasNumericContext = true
		}
	}
	if !hasNumericContext && idx+1 < len(ordered) {
		n := ordered[idx+1].Text
		if allDigits(n) || isCapitalizedWord(n) {
			hasNumericContext = true
		}
	}
	d["has_numeric_context"] = hasNumericContext
}

func addLabelRelative(d Dict, w word.Word, ctx template.Context) {
	d["has_label"] = ctx.Label != ""
	d["label_text"] = ctx.Label

	dx := w.X0 - ctx.LabelPosition.X0
	dy := w.Y0 - ctx.LabelPosition.Y0
	d["distance_from_label_x"] = dx
	d["distance_from_label_y"] = dy / 100.0

	after := w.X0 > ctx.LabelPosition.X0
	sameLine := abs(dy) < sameLineAsLabelBand
	d["after_label"] = after
	d["before_label"] = !after
	d["above_label"] = w.Y0 < ctx.LabelPosition.Y0
	d["below_label"] = w.Y0 > ctx.LabelPosition.Y1
	d["same_line_as_label"] = sameLine
	d["near_label"] = abs(dx) < nearLabelBand && abs(dy) < nearLabelBand
	d["valid_position"] = after && sameLine
}

func addNextFieldBoundary(d Dict, w word.Word, nextFieldY float64) {
	delta := nextFieldY - w.Y0
	d["has_next_field"] = true
	d["distance_to_next_field"] = delta / 100.0
	d["before_next_field"] = w.Y0 < nextFieldY
	d["near_next_field"] = delta > 0 && delta < nearNextFieldBand
	d["far_from_next_field"] = delta > farFromNextFieldBand
}

// --- primitive classifiers -------------------------------------------------

func isTitleCase(s string) bool {
	if s == "" {
		return false
	}
	runes := []rune(s)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if unicode.IsLetter(r) && unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func allAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func containsPunct(s string) bool {
	for _, r := range s {
		if unicode.IsPunct(r) {
			return true
		}
	}
	return false
}

func endsWithPunct(s string) bool {
	if s == "" {
		return false
	}
	return unicode.IsPunct(rune(s[len(s)-1]))
}

func startsWithPunct(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return unicode.IsPunct(r)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		return s
	}
	return string(r[:n])
}

func suffix(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		return s
	}
	return string(r[len(r)-n:])
}

func lengthBucket(n int) string {
	switch {
	case n <= 2:
		return "short"
	case n <= 5:
		return "medium"
	case n <= 10:
		return "long"
	default:
		return "very_long"
	}
}

func isYear(s string) bool {
	if !allDigits(s) || len(s) != 4 {
		return false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return v >= 1900 && v <= 2100
}

func isDayNumber(s string) bool {
	if !allDigits(s) || len(s) > 2 {
		return false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return v >= 1 && v <= 31
}

func isCapitalizedWord(s string) bool {
	return isTitleCase(s) && allAlpha(s) && len(s) > 2
}

func isDateSeparator(s string) bool {
	switch s {
	case ",", "-", "/", ".":
		return true
	default:
		return false
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
