package crf

import (
	"math"
	"testing"
)

func TestForwardBackwardMarginalsSumToOne(t *testing.T) {
	model := NewModel([]string{"O", "B-X"}, []string{"x"})
	model.Emission["bias"] = []float64{0.1, 0.9}
	model.Transition[0][0] = 0.2
	model.Transition[0][1] = 0.1
	model.Transition[1][0] = 0.3
	model.Transition[1][1] = 0.0

	seq := [][]Feature{
		{{Name: "bias", Value: 1}},
		{{Name: "bias", Value: 1}},
		{{Name: "bias", Value: 1}},
	}

	marginals, _ := model.ForwardBackward(seq)
	for t, row := range marginals {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-6 {
			t.Errorf("position %d: marginals sum to %f, want 1.0", t, sum)
		}
	}
}

func TestViterbiPicksHigherScoringLabel(t *testing.T) {
	model := NewModel([]string{"O", "B-X"}, []string{"x"})
	model.Emission["strong"] = []float64{-5, 5}

	seq := [][]Feature{{{Name: "strong", Value: 1}}}
	path, _ := model.Viterbi(seq)
	if model.Labels[path[0]] != "B-X" {
		t.Errorf("expected Viterbi to pick the high-emission label B-X, got %s", model.Labels[path[0]])
	}
}

func TestToFeaturesBinarizesStringsAndDropsFalseBooleans(t *testing.T) {
	d := map[string]any{
		"word_lower":    "hello",
		"word_is_title": true,
		"is_page_start": false,
		"x0_norm":       0.25,
	}
	feats := ToFeatures(d)

	names := map[string]float64{}
	for _, f := range feats {
		names[f.Name] = f.Value
	}
	if _, ok := names["word_lower=hello"]; !ok {
		t.Errorf("expected binarized string feature, got %v", names)
	}
	if _, ok := names["word_is_title"]; !ok {
		t.Errorf("expected true boolean feature to be present")
	}
	if _, ok := names["is_page_start"]; ok {
		t.Errorf("expected false boolean feature to be dropped")
	}
	if names["x0_norm"] != 0.25 {
		t.Errorf("expected numeric feature value preserved, got %v", names["x0_norm"])
	}
}
