package features

import (
	"testing"

	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/word"
)

func TestExtractPageBasicLexicalFeatures(t *testing.T) {
	words := []word.Word{
		{Text: "Hello", PageIndex: 0, X0: 0, Y0: 0, X1: 30, Y1: 12},
		{Text: "2024", PageIndex: 0, X0: 35, Y0: 0, X1: 60, Y1: 12},
	}

	dicts := ExtractPage(words, Options{})

	if dicts[0]["word_lower"] != "hello" {
		t.Errorf("expected word_lower=hello, got %v", dicts[0]["word_lower"])
	}
	if dicts[0]["word_is_title"] != true {
		t.Errorf("expected Hello to be title case")
	}
	if dicts[1]["word_is_digit"] != true {
		t.Errorf("expected 2024 to be all-digit")
	}
	if dicts[1]["is_year"] != true {
		t.Errorf("expected 2024 to be recognized as a year")
	}
}

func TestExtractPageTargetFieldFeatureFires(t *testing.T) {
	words := []word.Word{{Text: "x", PageIndex: 0, X0: 0, Y0: 0, X1: 10, Y1: 10}}
	dicts := ExtractPage(words, Options{TargetFields: []string{"recipient_name"}})

	if dicts[0]["target_field_RECIPIENT_NAME"] != true {
		t.Fatalf("expected target_field_RECIPIENT_NAME=true, got %v", dicts[0])
	}
}

func TestExtractPageLabelRelativeFeatures(t *testing.T) {
	words := []word.Word{
		{Text: "Date:", PageIndex: 0, X0: 0, Y0: 100, X1: 30, Y1: 112},
		{Text: "31", PageIndex: 0, X0: 35, Y0: 100, X1: 50, Y1: 112},
	}
	ctx := template.Context{
		Label:         "Date:",
		LabelPosition: template.BBox{X0: 0, Y0: 100, X1: 30, Y1: 112},
	}

	dicts := ExtractPage(words, Options{LabelContext: &ctx})

	if dicts[1]["after_label"] != true {
		t.Errorf("expected after_label=true for word to the right of the label")
	}
	if dicts[1]["same_line_as_label"] != true {
		t.Errorf("expected same_line_as_label=true")
	}
	if dicts[1]["valid_position"] != true {
		t.Errorf("expected valid_position=true")
	}
}

func TestExtractPageNextFieldBoundaryFeatures(t *testing.T) {
	words := []word.Word{
		{Text: "Jl.", PageIndex: 0, X0: 0, Y0: 200, X1: 10, Y1: 212},
		{Text: "Overflow", PageIndex: 0, X0: 0, Y0: 390, X1: 40, Y1: 402},
	}
	nextY := 382.37

	dicts := ExtractPage(words, Options{NextFieldY: &nextY})

	if dicts[0]["before_next_field"] != true {
		t.Errorf("expected word above the boundary to be before_next_field")
	}
	if dicts[1]["before_next_field"] != false {
		t.Errorf("expected word past the boundary to not be before_next_field")
	}
}
