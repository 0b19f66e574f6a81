package strategy

import (
	"testing"

	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

func fieldWithLabel(label string, labelBBox template.BBox, nextFieldY *float64) *template.FieldConfig {
	return &template.FieldConfig{
		FieldName: "date",
		Locations: []template.FieldLocation{
			{
				Page:       0,
				MarkerBBox: labelBBox,
				Context: template.Context{
					Label:         label,
					LabelPosition: labelBBox,
					NextFieldY:    nextFieldY,
				},
			},
		},
	}
}

func TestRuleStrategyFallbackMatchesValueToRightOfLabel(t *testing.T) {
	labelBBox := template.BBox{X0: 10, Y0: 100, X1: 50, Y1: 112}
	fieldCfg := fieldWithLabel("Date:", labelBBox, nil)

	words := []word.Word{
		{Text: "Date:", X0: 10, Y0: 100, X1: 50, Y1: 112},
		{Text: "31", X0: 55, Y0: 100, X1: 65, Y1: 112},
		{Text: "May", X0: 68, Y0: 100, X1: 90, Y1: 112},
		{Text: "2025", X0: 93, Y0: 100, X1: 120, Y1: 112},
	}

	r := NewRuleStrategy()
	result, err := r.Extract(fieldCfg, words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a match, got nil")
	}
	if result.Value != "31 May 2025" {
		t.Errorf("expected '31 May 2025', got %q", result.Value)
	}
}

func TestRuleStrategyStopsAtNextFieldBoundary(t *testing.T) {
	labelBBox := template.BBox{X0: 10, Y0: 100, X1: 50, Y1: 112}
	nextY := 130.0
	fieldCfg := fieldWithLabel("Place:", labelBBox, &nextY)

	words := []word.Word{
		{Text: "Place:", X0: 10, Y0: 100, X1: 50, Y1: 112},
		{Text: "Jakarta", X0: 55, Y0: 100, X1: 90, Y1: 112},
		{Text: "Signature:", X0: 10, Y0: 130, X1: 60, Y1: 142},
		{Text: "John", X0: 65, Y0: 130, X1: 90, Y1: 142},
	}

	r := NewRuleStrategy()
	result, err := r.Extract(fieldCfg, words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a match, got nil")
	}
	if result.Value != "Jakarta" {
		t.Errorf("expected 'Jakarta' only, boundary leaked: got %q", result.Value)
	}
}

func TestRuleStrategyReturnsNilWhenNoCandidateWords(t *testing.T) {
	labelBBox := template.BBox{X0: 10, Y0: 100, X1: 50, Y1: 112}
	fieldCfg := fieldWithLabel("Date:", labelBBox, nil)

	words := []word.Word{
		{Text: "Date:", X0: 10, Y0: 100, X1: 50, Y1: 112},
	}

	r := NewRuleStrategy()
	result, err := r.Extract(fieldCfg, words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result with no candidate words, got %v", result)
	}
}

func TestRuleStrategyReturnsNilWhenLearnedAndFallbackBothWeak(t *testing.T) {
	labelBBox := template.BBox{X0: 10, Y0: 100, X1: 50, Y1: 112}
	fieldCfg := fieldWithLabel("Date:", labelBBox, nil)
	// A learned pattern that cannot match anything present, so its
	// effective score stays below learnedWeakThreshold, and a fallback
	// pattern deliberately constrained to never match this text so its
	// score is 0 (below fallbackWeakThreshold), forcing the "no match"
	// branch that signals a learning opportunity.
	fieldCfg.LearnedPatterns = []string{`ZZZNOMATCHZZZ`}
	fieldCfg.Pattern = `ZZZALSONOMATCHZZZ`

	words := []word.Word{
		{Text: "Date:", X0: 10, Y0: 100, X1: 50, Y1: 112},
		{Text: "31", X0: 55, Y0: 100, X1: 65, Y1: 112},
	}

	r := NewRuleStrategy()
	result, err := r.Extract(fieldCfg, words)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil when both learned and fallback patterns fail to match, got %v", result)
	}
}

func TestSpecificityCapsAtFour(t *testing.T) {
	if s := specificity(`literallylongliterallongliteral`); s != 4 {
		t.Errorf("expected specificity to cap at 4, got %v", s)
	}
}
