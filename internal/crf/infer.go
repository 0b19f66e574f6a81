package crf

import (
	"strings"

	"github.com/agen/fieldextract/internal/features"
	"github.com/agen/fieldextract/internal/word"
)

// Span is one maximal contiguous B-F I-F ... run of predicted labels for
// a target field, with its mean marginal probability (§4.3's confidence
// contract: "the arithmetic mean of the marginal probabilities of the
// predicted labels within the span").
type Span struct {
	Start        int
	End          int // exclusive
	Words        []word.Word
	MeanMarginal float64
}

// Text concatenates the span's words with single spaces.
func (s Span) Text() string {
	parts := make([]string, len(s.Words))
	for i, w := range s.Words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// Predict runs inference for exactly one target field, as §4.3's
// inference contract and §4.2's asymmetric field-aware features require:
// at inference time the target-field set is the single field f.
func Predict(model *Model, pageWords []word.Word, fieldName string) (labels []string, marginals [][]float64, ordered []word.Word) {
	ordered = word.SortedByPosition(pageWords)
	dicts := features.ExtractPage(ordered, features.Options{TargetFields: []string{fieldName}})

	featureSeq := make([][]Feature, len(dicts))
	for i, d := range dicts {
		featureSeq[i] = ToFeatures(d)
	}

	path, _ := model.Viterbi(featureSeq)
	marginals, _ = model.ForwardBackward(featureSeq)

	labels = make([]string, len(path))
	for i, idx := range path {
		labels[i] = model.Labels[idx]
	}
	return labels, marginals, ordered
}

// Spans finds every maximal contiguous B-F I-F ... run for fieldName in a
// predicted label sequence.
func Spans(model *Model, labels []string, marginals [][]float64, ordered []word.Word, fieldName string) []Span {
	upper := strings.ToUpper(fieldName)
	beginLabel := "B-" + upper
	insideLabel := "I-" + upper
	beginIdx := model.LabelIndex(beginLabel)
	insideIdx := model.LabelIndex(insideLabel)
	if beginIdx < 0 {
		return nil
	}

	var spans []Span
	i := 0
	for i < len(labels) {
		if labels[i] != beginLabel {
			i++
			continue
		}
		start := i
		sum := marginals[i][beginIdx]
		j := i + 1
		count := 1
		for j < len(labels) && labels[j] == insideLabel && insideIdx >= 0 {
			sum += marginals[j][insideIdx]
			count++
			j++
		}
		spans = append(spans, Span{
			Start:        start,
			End:          j,
			Words:        append([]word.Word(nil), ordered[start:j]...),
			MeanMarginal: sum / float64(count),
		})
		i = j
	}
	return spans
}

// BestSpan picks the longest span, tie-breaking on highest mean marginal
// (§4.6's selection rule).
func BestSpan(spans []Span) (Span, bool) {
	if len(spans) == 0 {
		return Span{}, false
	}
	best := spans[0]
	for _, s := range spans[1:] {
		length := s.End - s.Start
		bestLength := best.End - best.Start
		if length > bestLength || (length == bestLength && s.MeanMarginal > best.MeanMarginal) {
			best = s
		}
	}
	return best, true
}

