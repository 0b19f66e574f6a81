// Package word defines the tokenized-document data model shared by every
// stage of the extraction pipeline: template analysis, feature extraction,
// the three strategies and the arbiter all operate on []Word.
package word

import "sort"

// Word is a single token produced by the external PDF tokenizer, with its
// page-relative bounding box. The Y axis grows downward, so Top is Y0 and
// a larger Y means further down the page.
type Word struct {
	Text      string
	PageIndex int
	X0        float64
	Y0        float64
	X1        float64
	Y1        float64
}

// Top returns the word's upper bound, the canonical Y used for ordering
// and boundary comparisons throughout the pipeline.
func (w Word) Top() float64 { return w.Y0 }

// Width reports the horizontal extent of the word's bounding box.
func (w Word) Width() float64 { return w.X1 - w.X0 }

// Height reports the vertical extent of the word's bounding box.
func (w Word) Height() float64 { return w.Y1 - w.Y0 }

// Page filters words down to a single page, preserving order.
func Page(words []Word, pageIndex int) []Word {
	out := make([]Word, 0, len(words))
	for _, w := range words {
		if w.PageIndex == pageIndex {
			out = append(out, w)
		}
	}
	return out
}

// SortedByPosition returns a copy of words ordered by (Y0, X0), the
// reading order the strategies, the Feature Extractor and the CRF rely on.
func SortedByPosition(words []Word) []Word {
	out := make([]Word, len(words))
	copy(out, words)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Y0 != out[j].Y0 {
			return out[i].Y0 < out[j].Y0
		}
		return out[i].X0 < out[j].X0
	})
	return out
}

// PageBounds computes the page width/height as the maximum X1/Y1 across
// the given words, the normalization denominators the Feature Extractor
// needs for x0_norm/y0_norm.
func PageBounds(words []Word) (width, height float64) {
	for _, w := range words {
		if w.X1 > width {
			width = w.X1
		}
		if w.Y1 > height {
			height = w.Y1
		}
	}
	return width, height
}
