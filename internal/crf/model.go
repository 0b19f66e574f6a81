package crf

import (
	"fmt"
	"math"
	"sort"

	"github.com/agen/fieldextract/internal/features"
)

// Feature is one active (name, value) pair for a word. Boolean features
// carry Value 1.0; numeric features (x0_norm, distance_from_label_y, ...)
// carry their real value; string-valued features (word_lower, label_text)
// are binarized into "name=value" with Value 1.0.
type Feature struct {
	Name  string
	Value float64
}

// ToFeatures flattens a features.Dict into the sparse representation the
// CRF operates on.
func ToFeatures(d features.Dict) []Feature {
	out := make([]Feature, 0, len(d))
	for name, v := range d {
		switch val := v.(type) {
		case bool:
			if val {
				out = append(out, Feature{Name: name, Value: 1.0})
			}
		case float64:
			out = append(out, Feature{Name: name, Value: val})
		case int:
			out = append(out, Feature{Name: name, Value: float64(val)})
		case string:
			if val != "" {
				out = append(out, Feature{Name: name + "=" + val, Value: 1.0})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Model is a serialized linear-chain CRF (§3's Model): emission weights
// keyed by feature name (one weight per label), a transition matrix
// between every pair of labels, and the field names it was trained on.
type Model struct {
	Labels      []string            `msgpack:"labels"`
	Fields      []string            `msgpack:"fields"`
	Emission    map[string][]float64 `msgpack:"emission"` // feature name -> per-label weight
	Transition  [][]float64          `msgpack:"transition"`
	labelIndex  map[string]int
}

// NewModel allocates a zero-weight model over the given label set.
func NewModel(labels, fields []string) *Model {
	idx := make(map[string]int, len(labels))
	for i, l := range labels {
		idx[l] = i
	}
	trans := make([][]float64, len(labels))
	for i := range trans {
		trans[i] = make([]float64, len(labels))
	}
	return &Model{
		Labels:     labels,
		Fields:     fields,
		Emission:   map[string][]float64{},
		Transition: trans,
		labelIndex: idx,
	}
}

// reindex rebuilds labelIndex, needed after deserialization.
func (m *Model) reindex() {
	m.labelIndex = make(map[string]int, len(m.Labels))
	for i, l := range m.Labels {
		m.labelIndex[l] = i
	}
}

func (m *Model) ensureIndex() {
	if m.labelIndex == nil {
		m.reindex()
	}
}

// emissionScores returns, for one word's feature list, the score of each
// label under the current weights.
func (m *Model) emissionScores(feats []Feature) []float64 {
	scores := make([]float64, len(m.Labels))
	for _, f := range feats {
		w, ok := m.Emission[f.Name]
		if !ok {
			continue
		}
		for k := range scores {
			scores[k] += w[k] * f.Value
		}
	}
	return scores
}

// Viterbi finds the highest-scoring label sequence for a word sequence's
// feature lists, and its total (unnormalized) score.
func (m *Model) Viterbi(seq [][]Feature) ([]int, float64) {
	m.ensureIndex()
	n := len(seq)
	k := len(m.Labels)
	if n == 0 {
		return nil, 0
	}

	delta := make([][]float64, n)
	back := make([][]int, n)
	for t := range delta {
		delta[t] = make([]float64, k)
		back[t] = make([]int, k)
	}

	emit0 := m.emissionScores(seq[0])
	copy(delta[0], emit0)

	for t := 1; t < n; t++ {
		emit := m.emissionScores(seq[t])
		for j := 0; j < k; j++ {
			best := math.Inf(-1)
			bestI := 0
			for i := 0; i < k; i++ {
				score := delta[t-1][i] + m.Transition[i][j]
				if score > best {
					best = score
					bestI = i
				}
			}
			delta[t][j] = best + emit[j]
			back[t][j] = bestI
		}
	}

	bestFinal := math.Inf(-1)
	bestLabel := 0
	for j := 0; j < k; j++ {
		if delta[n-1][j] > bestFinal {
			bestFinal = delta[n-1][j]
			bestLabel = j
		}
	}

	path := make([]int, n)
	path[n-1] = bestLabel
	for t := n - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path, bestFinal
}

// ForwardBackward computes, for every position and label, the marginal
// probability P(label at t | sequence), used for span confidence (§4.3's
// inference contract) and for training gradients.
func (m *Model) ForwardBackward(seq [][]Feature) (marginals [][]float64, logZ float64) {
	m.ensureIndex()
	n := len(seq)
	k := len(m.Labels)
	if n == 0 {
		return nil, 0
	}

	alpha := make([][]float64, n)
	beta := make([][]float64, n)
	for t := range alpha {
		alpha[t] = make([]float64, k)
		beta[t] = make([]float64, k)
	}

	emit := make([][]float64, n)
	for t := 0; t < n; t++ {
		emit[t] = m.emissionScores(seq[t])
	}

	copy(alpha[0], emit[0])
	for t := 1; t < n; t++ {
		for j := 0; j < k; j++ {
			sum := math.Inf(-1)
			for i := 0; i < k; i++ {
				sum = logAdd(sum, alpha[t-1][i]+m.Transition[i][j])
			}
			alpha[t][j] = sum + emit[t][j]
		}
	}

	for j := 0; j < k; j++ {
		beta[n-1][j] = 0
	}
	for t := n - 2; t >= 0; t-- {
		for i := 0; i < k; i++ {
			sum := math.Inf(-1)
			for j := 0; j < k; j++ {
				sum = logAdd(sum, m.Transition[i][j]+emit[t+1][j]+beta[t+1][j])
			}
			beta[t][i] = sum
		}
	}

	z := math.Inf(-1)
	for j := 0; j < k; j++ {
		z = logAdd(z, alpha[n-1][j])
	}

	marginals = make([][]float64, n)
	for t := 0; t < n; t++ {
		marginals[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			marginals[t][j] = math.Exp(alpha[t][j] + beta[t][j] - z)
		}
	}
	return marginals, z
}

func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

// LabelIndex returns the index of a label, or -1 if unknown.
func (m *Model) LabelIndex(label string) int {
	m.ensureIndex()
	idx, ok := m.labelIndex[label]
	if !ok {
		return -1
	}
	return idx
}

// HasField reports whether the model was trained on the given field name.
func (m *Model) HasField(field string) bool {
	for _, f := range m.Fields {
		if f == field {
			return true
		}
	}
	return false
}

func (m *Model) String() string {
	return fmt.Sprintf("crf.Model{labels=%d fields=%v features=%d}", len(m.Labels), m.Fields, len(m.Emission))
}
