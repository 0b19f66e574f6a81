package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agen/fieldextract/internal/feedback"
	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/storage"
	"github.com/agen/fieldextract/internal/template"
	"github.com/agen/fieldextract/internal/tokenize"
	"github.com/agen/fieldextract/internal/word"
)

// dateFormWords is a small synthetic "page" with one labeled field and no
// {date} marker, returned by the test tokenizer for Extract; the
// AnalyzeTemplate test builds its own marked sample.
func dateFormWords() []word.Word {
	return []word.Word{
		{Text: "Date:", PageIndex: 0, X0: 10, Y0: 100, X1: 40, Y1: 112},
		{Text: "31", PageIndex: 0, X0: 45, Y0: 100, X1: 55, Y1: 112},
		{Text: "May", PageIndex: 0, X0: 58, Y0: 100, X1: 80, Y1: 112},
		{Text: "2025", PageIndex: 0, X0: 83, Y0: 100, X1: 110, Y1: 112},
	}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	models, err := storage.NewModelStore(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)

	tokenizer := tokenize.WordSourceFunc(func([]byte) ([]word.Word, error) {
		return dateFormWords(), nil
	})

	return New(Options{
		TemplateDir: dir,
		Tokenizer:   tokenizer,
		DB:          db,
		Models:      models,
	})
}

func saveTestTemplate(t *testing.T, p *Pipeline, templateID string) {
	t.Helper()
	cfg := &template.Config{
		Fields: map[string]*template.FieldConfig{
			"date": {
				FieldName: "date",
				Locations: []template.FieldLocation{{
					Page:       0,
					MarkerBBox: template.BBox{X0: 10, Y0: 100, X1: 40, Y1: 112},
					Context: template.Context{
						Label:         "Date:",
						LabelPosition: template.BBox{X0: 10, Y0: 100, X1: 40, Y1: 112},
					},
				}},
			},
		},
	}
	require.NoError(t, cfg.Save(p.templatePath(templateID)))
}

func TestExtractProducesAndPersistsDocument(t *testing.T) {
	p := newTestPipeline(t)
	saveTestTemplate(t, p, "tmpl-1")

	doc, err := p.Extract("tmpl-1", []byte("irrelevant-pdf-bytes"))
	require.NoError(t, err)
	require.Contains(t, doc.ExtractedData["date"], "31 May 2025")
	require.Equal(t, "tmpl-1", doc.TemplateID)
	require.NotEmpty(t, doc.ID, "expected a generated document id")

	stored, found, err := p.db.GetDocument("tmpl-1", doc.ID)
	require.NoError(t, err)
	require.True(t, found, "expected the extracted document to have been persisted")
	require.Contains(t, stored.ExtractedData["date"], "31 May 2025")
	require.Len(t, stored.PageWords, len(dateFormWords()))
}

func TestExtractDoesNotWriteToPerformanceTracker(t *testing.T) {
	p := newTestPipeline(t)
	saveTestTemplate(t, p, "tmpl-1")

	doc, err := p.Extract("tmpl-1", []byte("irrelevant"))
	require.NoError(t, err)

	method, ok := doc.Methods["date"]
	require.True(t, ok, "expected a recorded method for the date field")

	// §9: performance writes happen only from the feedback path, never
	// from extraction, to break the Feedback->Performance->Arbiter->
	// Extraction->Feedback cycle.
	_, ok, err = p.db.Performance().Get("tmpl-1", "date", method)
	require.NoError(t, err)
	require.False(t, ok, "expected extraction alone to leave no performance record")
}

func TestSubmitCorrectionsRecordsSilentAcceptanceForUncorrectedFields(t *testing.T) {
	p := newTestPipeline(t)
	saveTestTemplate(t, p, "tmpl-1")

	// Construct the document directly with a confidence comfortably above
	// the default silent-acceptance cutoff, rather than depending on
	// whichever strategy the arbiter happens to pick: the behavior under
	// test is submit_corrections' cutoff check, not strategy arbitration.
	doc := storage.Document{
		ID:            "doc-1",
		TemplateID:    "tmpl-1",
		ExtractedData: map[string]string{"date": "31 May 2025"},
		Confidences:   map[string]float64{"date": 0.9},
		Methods:       map[string]fieldvalue.StrategyType{"date": fieldvalue.PositionBased},
	}
	require.NoError(t, p.db.PutDocument(doc))

	// No corrections submitted at all: the date field should still pick
	// up a silent-acceptance performance record, since submit_corrections
	// is where that signal is recorded now, not extraction.
	_, err := p.SubmitCorrections("tmpl-1", doc.ID, nil)
	require.NoError(t, err)

	rec, ok, err := p.db.Performance().Get("tmpl-1", "date", fieldvalue.PositionBased)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rec.TotalExtractions)
	require.Equal(t, 1, rec.CorrectExtractions, "expected a silently-accepted extraction counted as correct")
}

func TestSubmitCorrectionsPersistsFeedbackAndStaysBelowRetrainThreshold(t *testing.T) {
	p := newTestPipeline(t)
	saveTestTemplate(t, p, "tmpl-1")

	doc, err := p.Extract("tmpl-1", []byte("irrelevant"))
	require.NoError(t, err)

	corrections := []feedback.Correction{{FieldName: "date", OriginalValue: "31 May 2025", CorrectedValue: "31 May 2026"}}
	outcome, err := p.SubmitCorrections("tmpl-1", doc.ID, corrections)
	require.NoError(t, err)
	require.Nil(t, outcome, "expected no retrain attempt below the default 100-correction threshold")

	rows, err := p.db.ListFeedback("tmpl-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "31 May 2026", rows[0].CorrectedValue)
}

func TestSubmitCorrectionsReturnsErrorForUnknownDocument(t *testing.T) {
	p := newTestPipeline(t)
	saveTestTemplate(t, p, "tmpl-1")

	_, err := p.SubmitCorrections("tmpl-1", "does-not-exist", nil)
	require.Error(t, err, "expected an error for a document id that was never persisted")
}

func TestAnalyzeTemplatePersistsConfigAndInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	models, err := storage.NewModelStore(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)

	sample := []word.Word{
		{Text: "Date:", PageIndex: 0, X0: 10, Y0: 100, X1: 40, Y1: 112},
		{Text: "{date}", PageIndex: 0, X0: 45, Y0: 100, X1: 70, Y1: 112},
	}
	tokenizer := tokenize.WordSourceFunc(func([]byte) ([]word.Word, error) { return sample, nil })

	p := New(Options{TemplateDir: dir, Tokenizer: tokenizer, DB: db, Models: models})

	_, err = p.templateConfig("tmpl-1")
	require.Error(t, err, "expected loading a template that doesn't exist yet to fail")

	cfg, err := p.AnalyzeTemplate("tmpl-1", []byte("sample-pdf-bytes"))
	require.NoError(t, err)
	_, ok := cfg.Field("date")
	require.True(t, ok, "expected the {date} marker to produce a date field")

	reloaded, err := p.templateConfig("tmpl-1")
	require.NoError(t, err)
	_, ok = reloaded.Field("date")
	require.True(t, ok, "expected the reloaded template to carry the analyzed date field")
}
