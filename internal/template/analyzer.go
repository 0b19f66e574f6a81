package template

import (
	"regexp"
	"sort"

	"github.com/agen/fieldextract/internal/word"
)

// markerPattern matches the `{field_name}` placeholder convention §4.1
// describes: a brace-delimited identifier literal in the sample PDF's text.
var markerPattern = regexp.MustCompile(`^\{([A-Za-z][A-Za-z0-9_]*)\}$`)

// maxSideWords bounds how many words_before/words_after are captured,
// per §4.1's "up to five words".
const maxSideWords = 5

// sameLineBand is the Y-distance within which two words are considered to
// be on the same line, used both for label detection and for collecting
// words_before/words_after.
const sameLineBand = 3.0

// Analyze builds a Config from a sample PDF's tokenized words. Each word
// matching the marker convention becomes a field; its bbox is the marker,
// the nearest word to its left on the same line becomes the label, and
// next_field_y is derived from the sorted Y-order of every field detected
// on the same page (§4.1).
func Analyze(words []word.Word) *Config {
	cfg := &Config{Fields: map[string]*FieldConfig{}}

	type marker struct {
		fieldName string
		page      int
		bbox      BBox
	}

	var markers []marker
	for _, w := range words {
		if m := markerPattern.FindStringSubmatch(w.Text); m != nil {
			markers = append(markers, marker{
				fieldName: m[1],
				page:      w.PageIndex,
				bbox:      BBox{X0: w.X0, Y0: w.Y0, X1: w.X1, Y1: w.Y1},
			})
		}
	}

	// Group by page so next_field_y is computed per page, per §4.1.
	byPage := map[int][]marker{}
	for _, m := range markers {
		byPage[m.page] = append(byPage[m.page], m)
	}

	for page, pageMarkers := range byPage {
		sort.SliceStable(pageMarkers, func(i, j int) bool {
			return pageMarkers[i].bbox.Y0 < pageMarkers[j].bbox.Y0
		})
		pageWords := word.Page(words, page)

		for i, m := range pageMarkers {
			label, labelBBox := nearestLabelLeft(pageWords, m.bbox)
			before, after := sideWords(pageWords, m.bbox)

			var nextY *float64
			if i+1 < len(pageMarkers) {
				y := pageMarkers[i+1].bbox.Y0
				nextY = &y
			}

			typical := m.bbox.X1 - m.bbox.X0

			cfg.Fields[m.fieldName] = &FieldConfig{
				FieldName: m.fieldName,
				Locations: []FieldLocation{{
					Page:       page,
					MarkerBBox: m.bbox,
					Context: Context{
						Label:         label,
						LabelPosition: labelBBox,
						WordsBefore:   before,
						WordsAfter:    after,
						NextFieldY:    nextY,
						TypicalLength: &typical,
					},
				}},
			}
		}
	}

	return cfg
}

// nearestLabelLeft finds the nearest word on the same line strictly to
// the left of the marker, per §4.1's label-detection rule. Returns an
// empty label and zero bbox when none is found (the "marker without
// detectable label" failure mode).
func nearestLabelLeft(pageWords []word.Word, marker BBox) (string, BBox) {
	var best *word.Word
	bestDX := 0.0
	for i := range pageWords {
		w := pageWords[i]
		if w.X0 >= marker.X0 {
			continue
		}
		if abs(w.Y0-marker.Y0) > sameLineBand {
			continue
		}
		dx := marker.X0 - w.X0
		if best == nil || dx < bestDX {
			best = &pageWords[i]
			bestDX = dx
		}
	}
	if best == nil {
		return "", BBox{}
	}
	return best.Text, BBox{X0: best.X0, Y0: best.Y0, X1: best.X1, Y1: best.Y1}
}

// sideWords collects up to maxSideWords words to the left and right of the
// marker on the same line, ordered by proximity-to-reading-order.
func sideWords(pageWords []word.Word, marker BBox) (before, after []string) {
	type sided struct {
		w    word.Word
		side int // -1 left, +1 right
	}
	var candidates []sided
	for _, w := range pageWords {
		if abs(w.Y0-marker.Y0) > sameLineBand {
			continue
		}
		if w.X0 < marker.X0 {
			candidates = append(candidates, sided{w, -1})
		} else if w.X0 >= marker.X1 {
			candidates = append(candidates, sided{w, 1})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].w.X0 < candidates[j].w.X0
	})

	var left []string
	var right []string
	for _, c := range candidates {
		if c.side == -1 {
			left = append(left, c.w.Text)
		} else {
			right = append(right, c.w.Text)
		}
	}
	if len(left) > maxSideWords {
		left = left[len(left)-maxSideWords:]
	}
	if len(right) > maxSideWords {
		right = right[:maxSideWords]
	}
	return left, right
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
