package strategy

import (
	"testing"

	"github.com/agen/fieldextract/internal/crf"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

// fakeModelSource is a strategy.ModelSource backed by a plain map, for
// tests that don't need storage.ModelCache's mtime-reload behavior.
type fakeModelSource map[string]*crf.Model

func (f fakeModelSource) Current(templateID string) (*crf.Model, bool) {
	m, ok := f[templateID]
	return m, ok
}

// biasedDateModel builds a model whose only feature, target_field_DATE,
// fires identically on every word of the page, so the B-DATE/I-DATE
// sequencing has to come entirely from the transition weights below
// rather than from per-word emission differences.
func biasedDateModel() *crf.Model {
	labels := crf.BuildLabelSet([]string{"date"}) // O, B-DATE, I-DATE
	model := crf.NewModel(labels, []string{"date"})
	// Every word of a target_field_DATE page carries the same feature, so
	// the label sequencing has to come from the transition matrix: favor
	// B-DATE at the first step (highest lone emission) and I-DATE
	// thereafter (strong B-DATE/I-DATE -> I-DATE transitions), giving a
	// single contiguous span across the whole page.
	model.Emission["target_field_DATE"] = []float64{-5, 5, 1}
	model.Transition[1][2] = 10 // B-DATE -> I-DATE
	model.Transition[2][2] = 10 // I-DATE -> I-DATE
	return model
}

func dateFieldConfig() *template.FieldConfig {
	return &template.FieldConfig{
		FieldName: "date",
		Locations: []template.FieldLocation{{
			Page: 0,
			Context: template.Context{
				Label:         "Date:",
				LabelPosition: template.BBox{X0: 10, Y0: 100, X1: 50, Y1: 112},
			},
		}},
	}
}

func TestCRFStrategyExtractsSpanAndStripsLabelText(t *testing.T) {
	models := fakeModelSource{"tmpl-1": biasedDateModel()}
	strat := NewCRFStrategy(models, nil)

	words := []word.Word{
		{Text: "Date:", X0: 10, Y0: 100, X1: 50, Y1: 112},
		{Text: "31", X0: 55, Y0: 100, X1: 65, Y1: 112},
		{Text: "May", X0: 68, Y0: 100, X1: 90, Y1: 112},
	}

	result, err := strat.ExtractForTemplate("tmpl-1", dateFieldConfig(), words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a match, got nil")
	}
	if result.Value != "31 May" {
		t.Errorf("expected the label text stripped from the predicted span, got %q", result.Value)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("expected a mean-marginal confidence in (0,1], got %v", result.Confidence)
	}
}

func TestCRFStrategyEnforcesHardBoundaryAtNextField(t *testing.T) {
	models := fakeModelSource{"tmpl-1": biasedDateModel()}
	strat := NewCRFStrategy(models, nil)

	nextY := 130.0
	fieldCfg := dateFieldConfig()
	fieldCfg.Locations[0].Context.NextFieldY = &nextY

	words := []word.Word{
		{Text: "Date:", X0: 10, Y0: 100, X1: 50, Y1: 112},
		{Text: "31", X0: 55, Y0: 100, X1: 65, Y1: 112},
		{Text: "Signature:", X0: 10, Y0: 130, X1: 60, Y1: 142},
	}

	result, err := strat.ExtractForTemplate("tmpl-1", fieldCfg, words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a match, got nil")
	}
	if result.Value != "31" {
		t.Errorf("expected the boundary word excluded from the span, got %q", result.Value)
	}
}

func TestCRFStrategyReturnsNilWithoutAModel(t *testing.T) {
	strat := NewCRFStrategy(fakeModelSource{}, nil)
	result, err := strat.ExtractForTemplate("tmpl-1", dateFieldConfig(), []word.Word{{Text: "31"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result when no model is available, got %v", result)
	}
}

func TestCRFStrategyReturnsNilWhenModelLacksField(t *testing.T) {
	model := crf.NewModel(crf.BuildLabelSet([]string{"place"}), []string{"place"})
	models := fakeModelSource{"tmpl-1": model}
	strat := NewCRFStrategy(models, nil)

	result, err := strat.ExtractForTemplate("tmpl-1", dateFieldConfig(), []word.Word{{Text: "31"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result when the model was never trained on this field, got %v", result)
	}
}

func TestCRFStrategyExtractReturnsErrorWithoutTemplateID(t *testing.T) {
	strat := NewCRFStrategy(fakeModelSource{}, nil)
	_, err := strat.Extract(dateFieldConfig(), nil)
	if err == nil {
		t.Error("expected Extract (no template id) to error, directing callers to ExtractForTemplate")
	}
}
