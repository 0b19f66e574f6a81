package crf

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/agen/fieldextract/internal/features"
	"github.com/agen/fieldextract/internal/word"
)

// Hyperparams carries the CRF training configuration named in §4.3/§6:
// c1/c2 are the elastic-net regularization weights, MaxIter bounds
// L-BFGS iterations. None of these are embedded literals elsewhere.
type Hyperparams struct {
	C1      float64
	C2      float64
	MaxIter int
}

// DefaultHyperparams returns the spec's documented defaults.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{C1: 0.1, C2: 0.2, MaxIter: 300}
}

// Sequence is one training document's word/feature/label triple, built
// from the implicit BIO labeling algorithm (§4.3).
type Sequence struct {
	DocumentID string
	FeatureSeq [][]Feature
	Labels     []int
	LabelText  []string
	// Weight scales this sequence's contribution to the training
	// objective. §9 Open Question (a) is decided here: PrepareSequence sets
	// it to the mean Weight of the ground-truth pairs it matched, so a
	// sequence whose matched pairs are silent-acceptance samples (built
	// with Weight<1 by the caller) nudges the model without letting it
	// dominate true corrections.
	Weight float64
}

// GroundTruthPair is one (field, value) pair considered ground truth for
// a document: either a user correction or a silent-acceptance extraction.
type GroundTruthPair struct {
	FieldName string
	Value     string
	// Weight lets the caller down-weight silent-acceptance samples
	// relative to true corrections (§9 Open Question (a), decided in
	// DESIGN.md: silent-acceptance pairs are built with Weight<1).
	Weight float64
}

// BuildLabelSet constructs the full BIO label vocabulary ("O" plus
// B-/I- per field) the model will be trained over.
func BuildLabelSet(fields []string) []string {
	labels := []string{"O"}
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	for _, f := range sorted {
		u := strings.ToUpper(f)
		labels = append(labels, "B-"+u, "I-"+u)
	}
	return labels
}

// PrepareSequence labels a single document's page words against every
// ground-truth pair it has, in field order, and builds the feature
// sequence with target_field_* firing for every field in groundTruth
// (the training-time asymmetry §4.2 requires). Pairs whose value cannot
// be located by the strict window match are skipped, never mislabeled.
func PrepareSequence(documentID string, pageWords []word.Word, groundTruth []GroundTruthPair, labelSet []string) (Sequence, bool) {
	ordered := word.SortedByPosition(pageWords)

	labels := make([]string, len(ordered))
	for i := range labels {
		labels[i] = "O"
	}

	targetFields := make([]string, 0, len(groundTruth))
	matchedAny := false
	weightSum, weightCount := 0.0, 0
	for _, pair := range groundTruth {
		targetFields = append(targetFields, pair.FieldName)
		fieldLabels, ok := LabelSequence(ordered, pair.FieldName, pair.Value)
		if !ok {
			continue
		}
		matchedAny = true
		for i, l := range fieldLabels {
			if l != "O" {
				labels[i] = l
			}
		}
		w := pair.Weight
		if w <= 0 {
			w = 1.0
		}
		weightSum += w
		weightCount++
	}
	if !matchedAny {
		return Sequence{}, false
	}
	seqWeight := 1.0
	if weightCount > 0 {
		seqWeight = weightSum / float64(weightCount)
	}

	dicts := features.ExtractPage(ordered, features.Options{TargetFields: targetFields})
	featureSeq := make([][]Feature, len(dicts))
	for i, d := range dicts {
		featureSeq[i] = ToFeatures(d)
	}

	labelIdx := make(map[string]int, len(labelSet))
	for i, l := range labelSet {
		labelIdx[l] = i
	}
	ids := make([]int, len(labels))
	for i, l := range labels {
		id, ok := labelIdx[l]
		if !ok {
			id = labelIdx["O"]
		}
		ids[i] = id
	}

	return Sequence{DocumentID: documentID, FeatureSeq: featureSeq, Labels: ids, LabelText: labels, Weight: seqWeight}, true
}

// Metrics reports the per-run evaluation §4.3 requires.
type Metrics struct {
	TrainAccuracy    float64
	TestAccuracy     float64
	TrainingSamples  int
	DiversityRatio   float64
	DiversityWarning bool
	PerLabel         map[string]PrecisionRecall
}

// PrecisionRecall is one label's token-level precision/recall.
type PrecisionRecall struct {
	Precision float64
	Recall    float64
}

// diversityThreshold is §4.3's unique-sequence-ratio floor.
const diversityThreshold = 0.30

// testSplitFraction and splitSeed give the fixed 80/20 split §4.3 requires.
const testSplitFraction = 0.2
const splitSeed = 42

// Train builds and evaluates a CRF model from a set of labeled sequences,
// per §4.3: an 80/20 split with a fixed seed, L-BFGS optimization under
// the given hyperparameters, token-level train/test accuracy, per-label
// precision/recall, and the diversity check.
func Train(sequences []Sequence, labelSet, fields []string, hp Hyperparams) (*Model, Metrics, error) {
	if len(sequences) == 0 {
		return nil, Metrics{}, fmt.Errorf("crf: no training sequences")
	}

	train, test := splitSequences(sequences, testSplitFraction, splitSeed)

	model := NewModel(labelSet, fields)
	fitWeights(model, train, hp)

	metrics := Metrics{
		TrainingSamples: len(train),
		TrainAccuracy:   tokenAccuracy(model, train),
		TestAccuracy:    tokenAccuracy(model, test),
		PerLabel:        perLabelPrecisionRecall(model, test, labelSet),
	}
	metrics.DiversityRatio = diversityRatio(sequences)
	metrics.DiversityWarning = metrics.DiversityRatio < diversityThreshold

	return model, metrics, nil
}

func splitSequences(sequences []Sequence, testFraction float64, seed int64) (train, test []Sequence) {
	perm := rand.New(rand.NewSource(seed)).Perm(len(sequences))
	testCount := int(float64(len(sequences)) * testFraction)
	for i, idx := range perm {
		if i < testCount {
			test = append(test, sequences[idx])
		} else {
			train = append(train, sequences[idx])
		}
	}
	if len(train) == 0 && len(test) > 0 {
		train, test = test, nil
	}
	return train, test
}

// fitWeights trains the model's emission/transition weights in place by
// minimizing the elastic-net-regularized negative log-likelihood with
// L-BFGS.
func fitWeights(model *Model, sequences []Sequence, hp Hyperparams) {
	featureNames := collectFeatureNames(sequences)
	k := len(model.Labels)

	// Flat parameter layout: one block of k weights per feature name,
	// followed by the k*k transition matrix.
	paramIndex := make(map[string]int, len(featureNames))
	for i, name := range featureNames {
		paramIndex[name] = i * k
	}
	transitionOffset := len(featureNames) * k
	nParams := transitionOffset + k*k

	x0 := make([]float64, nParams)

	objective := func(x []float64) (float64, []float64) {
		loadParams(model, x, featureNames, paramIndex, transitionOffset, k)
		return crfObjective(model, sequences, hp, x, nParams)
	}

	xStar := minimizeLBFGS(objective, x0, hp.MaxIter)
	loadParams(model, xStar, featureNames, paramIndex, transitionOffset, k)
}

func collectFeatureNames(sequences []Sequence) []string {
	seen := map[string]bool{}
	for _, seq := range sequences {
		for _, feats := range seq.FeatureSeq {
			for _, f := range feats {
				seen[f.Name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func loadParams(model *Model, x []float64, featureNames []string, paramIndex map[string]int, transitionOffset, k int) {
	for _, name := range featureNames {
		off := paramIndex[name]
		w, ok := model.Emission[name]
		if !ok {
			w = make([]float64, k)
			model.Emission[name] = w
		}
		copy(w, x[off:off+k])
	}
	for i := 0; i < k; i++ {
		copy(model.Transition[i], x[transitionOffset+i*k:transitionOffset+(i+1)*k])
	}
}

// crfObjective computes the elastic-net-regularized negative
// log-likelihood and its gradient with respect to the flat parameter
// vector x, using the model's current (just-loaded) weights for the
// forward-backward pass.
func crfObjective(model *Model, sequences []Sequence, hp Hyperparams, x []float64, nParams int) (float64, []float64) {
	grad := make([]float64, nParams)
	nll := 0.0

	featureNames := make([]string, 0, len(model.Emission))
	for name := range model.Emission {
		featureNames = append(featureNames, name)
	}
	sort.Strings(featureNames)
	paramIndex := make(map[string]int, len(featureNames))
	k := len(model.Labels)
	for i, name := range featureNames {
		paramIndex[name] = i * k
	}
	transitionOffset := len(featureNames) * k

	for _, seq := range sequences {
		if len(seq.FeatureSeq) == 0 {
			continue
		}
		weight := seq.Weight
		if weight <= 0 {
			weight = 1.0
		}
		marginals, logZ := model.ForwardBackward(seq.FeatureSeq)
		goldScore := sequenceScore(model, seq)
		nll += weight * (logZ - goldScore)

		for t, feats := range seq.FeatureSeq {
			gold := seq.Labels[t]
			for _, f := range feats {
				off, ok := paramIndex[f.Name]
				if !ok {
					continue
				}
				for lab := 0; lab < k; lab++ {
					expected := marginals[t][lab] * f.Value
					observed := 0.0
					if lab == gold {
						observed = f.Value
					}
					grad[off+lab] += weight * (expected - observed)
				}
			}
		}
	}

	for i, name := range featureNames {
		off := paramIndex[name]
		for lab := 0; lab < k; lab++ {
			w := x[off+lab]
			nll += hp.C2 * w * w
			nll += hp.C1 * absf(w)
			grad[off+lab] += 2 * hp.C2 * w
			grad[off+lab] += hp.C1 * signf(w)
		}
	}
	_ = transitionOffset

	return nll, grad
}

func sequenceScore(model *Model, seq Sequence) float64 {
	score := 0.0
	emit := make([]float64, len(seq.FeatureSeq))
	_ = emit
	for t, feats := range seq.FeatureSeq {
		scores := model.emissionScores(feats)
		score += scores[seq.Labels[t]]
		if t > 0 {
			score += model.Transition[seq.Labels[t-1]][seq.Labels[t]]
		}
	}
	return score
}

func tokenAccuracy(model *Model, sequences []Sequence) float64 {
	total, correct := 0, 0
	for _, seq := range sequences {
		if len(seq.FeatureSeq) == 0 {
			continue
		}
		predicted, _ := model.Viterbi(seq.FeatureSeq)
		for t, p := range predicted {
			total++
			if p == seq.Labels[t] {
				correct++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

func perLabelPrecisionRecall(model *Model, sequences []Sequence, labelSet []string) map[string]PrecisionRecall {
	tp := make(map[string]int)
	fp := make(map[string]int)
	fn := make(map[string]int)

	for _, seq := range sequences {
		if len(seq.FeatureSeq) == 0 {
			continue
		}
		predicted, _ := model.Viterbi(seq.FeatureSeq)
		for t, p := range predicted {
			predLabel := labelSet[p]
			goldLabel := labelSet[seq.Labels[t]]
			if predLabel == goldLabel {
				tp[predLabel]++
			} else {
				fp[predLabel]++
				fn[goldLabel]++
			}
		}
	}

	result := make(map[string]PrecisionRecall, len(labelSet))
	for _, l := range labelSet {
		p := safeDiv(tp[l], tp[l]+fp[l])
		r := safeDiv(tp[l], tp[l]+fn[l])
		result[l] = PrecisionRecall{Precision: p, Recall: r}
	}
	return result
}

func diversityRatio(sequences []Sequence) float64 {
	if len(sequences) == 0 {
		return 0
	}
	seen := map[string]bool{}
	for _, seq := range sequences {
		var b strings.Builder
		for _, l := range seq.LabelText {
			b.WriteString(l)
			b.WriteByte('|')
		}
		seen[b.String()] = true
	}
	return float64(len(seen)) / float64(len(sequences))
}

func safeDiv(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func signf(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
