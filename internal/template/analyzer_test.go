package template

import (
	"testing"

	"github.com/agen/fieldextract/internal/word"
)

func TestAnalyzeDerivesNextFieldYAndLabel(t *testing.T) {
	words := []word.Word{
		{Text: "Date:", PageIndex: 0, X0: 10, Y0: 100, X1: 40, Y1: 112},
		{Text: "{date}", PageIndex: 0, X0: 45, Y0: 100, X1: 70, Y1: 112},
		{Text: "Location:", PageIndex: 0, X0: 10, Y0: 150, X1: 55, Y1: 162},
		{Text: "{location}", PageIndex: 0, X0: 60, Y0: 150, X1: 90, Y1: 162},
	}

	cfg := Analyze(words)

	dateField, ok := cfg.Field("date")
	if !ok {
		t.Fatalf("expected date field to be detected")
	}
	if dateField.Locations[0].Context.Label != "Date:" {
		t.Errorf("expected label 'Date:', got %q", dateField.Locations[0].Context.Label)
	}
	nextY := dateField.Locations[0].Context.NextFieldY
	if nextY == nil || *nextY != 150 {
		t.Fatalf("expected next_field_y=150, got %v", nextY)
	}

	locationField, ok := cfg.Field("location")
	if !ok {
		t.Fatalf("expected location field to be detected")
	}
	if locationField.Locations[0].Context.NextFieldY != nil {
		t.Errorf("expected last field on page to have nil next_field_y, got %v",
			*locationField.Locations[0].Context.NextFieldY)
	}
}

func TestAnalyzeMarkerWithoutLabel(t *testing.T) {
	words := []word.Word{
		{Text: "{orphan}", PageIndex: 0, X0: 10, Y0: 100, X1: 40, Y1: 112},
	}

	cfg := Analyze(words)

	f, ok := cfg.Field("orphan")
	if !ok {
		t.Fatalf("expected orphan field to be detected")
	}
	if f.Locations[0].Context.Label != "" {
		t.Errorf("expected empty label, got %q", f.Locations[0].Context.Label)
	}
	if f.Locations[0].Context.NextFieldY != nil {
		t.Errorf("expected nil next_field_y for the only field on the page")
	}
}
