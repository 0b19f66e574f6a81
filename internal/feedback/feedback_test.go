package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/agen/fieldextract/internal/config"
	"github.com/agen/fieldextract/internal/crf"
	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/performance"
	"github.com/agen/fieldextract/internal/postprocess"
	"github.com/agen/fieldextract/internal/storage"
	"github.com/agen/fieldextract/internal/word"
)

func openTestDB(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSubmitCorrectionsPersistsFeedbackAndUpdatesPerformance(t *testing.T) {
	db := openTestDB(t)
	perf := performance.NewMemStore()
	store := NewStore(db, perf, nil, nil, nil)

	doc := storage.Document{
		ID:         "doc-1",
		TemplateID: "tmpl-1",
		Methods:    map[string]fieldvalue.StrategyType{"date": fieldvalue.RuleBased},
		StrategiesUsed: []storage.StrategyUsed{{
			FieldName: "date",
			Method:    fieldvalue.RuleBased,
			AllStrategiesAttempted: map[fieldvalue.StrategyType]fieldvalue.AttemptRecord{
				fieldvalue.RuleBased:     {Success: true, Confidence: 0.8, Value: "31 May"},
				fieldvalue.PositionBased: {Success: true, Confidence: 0.9, Value: "31 May"},
			},
		}},
	}
	if err := db.PutDocument(doc); err != nil {
		t.Fatalf("put document: %v", err)
	}

	corrections := []Correction{{FieldName: "date", OriginalValue: "31 May", CorrectedValue: "31 May 2025"}}
	if err := store.SubmitCorrections(doc, corrections); err != nil {
		t.Fatalf("submit corrections: %v", err)
	}

	rows, err := db.ListFeedback("tmpl-1")
	if err != nil {
		t.Fatalf("list feedback: %v", err)
	}
	if len(rows) != 1 || rows[0].CorrectedValue != "31 May 2025" {
		t.Errorf("expected one persisted feedback row, got %+v", rows)
	}

	// Every strategy attempted on this field is charged as a miss, not
	// just the one that won (§4.7).
	for _, strat := range []fieldvalue.StrategyType{fieldvalue.RuleBased, fieldvalue.PositionBased} {
		r, ok, err := perf.Get("tmpl-1", "date", strat)
		if err != nil || !ok {
			t.Fatalf("expected a performance record for %s, ok=%v err=%v", strat, ok, err)
		}
		if r.TotalExtractions != 1 || r.CorrectExtractions != 0 {
			t.Errorf("expected the changed value to count as incorrect for %s, got %+v", strat, r)
		}
	}
}

func TestSubmitCorrectionsTreatsUnchangedValueAsCorrect(t *testing.T) {
	db := openTestDB(t)
	perf := performance.NewMemStore()
	store := NewStore(db, perf, nil, nil, nil)

	doc := storage.Document{
		ID:         "doc-1",
		TemplateID: "tmpl-1",
		Methods:    map[string]fieldvalue.StrategyType{"date": fieldvalue.PositionBased},
		StrategiesUsed: []storage.StrategyUsed{{
			FieldName: "date",
			Method:    fieldvalue.PositionBased,
			AllStrategiesAttempted: map[fieldvalue.StrategyType]fieldvalue.AttemptRecord{
				fieldvalue.PositionBased: {Success: true, Confidence: 0.9, Value: "31 May 2025"},
			},
		}},
	}
	corrections := []Correction{{FieldName: "date", OriginalValue: "31 May 2025", CorrectedValue: "31 May 2025"}}
	if err := store.SubmitCorrections(doc, corrections); err != nil {
		t.Fatalf("submit corrections: %v", err)
	}

	r, ok, err := perf.Get("tmpl-1", "date", fieldvalue.PositionBased)
	if err != nil || !ok {
		t.Fatalf("expected a performance record, ok=%v err=%v", ok, err)
	}
	if r.CorrectExtractions != 1 {
		t.Errorf("expected a confirmed-unchanged correction to count as correct, got %+v", r)
	}
}

func TestSubmitCorrectionsSkipsFieldsWithNoAttemptedStrategyProvenance(t *testing.T) {
	db := openTestDB(t)
	perf := performance.NewMemStore()
	store := NewStore(db, perf, nil, nil, nil)

	// No StrategiesUsed entry for "date": its provenance is unknown, so
	// no performance row may be inserted for it (§7: never insert under
	// an unresolved field identity).
	doc := storage.Document{ID: "doc-1", TemplateID: "tmpl-1"}
	corrections := []Correction{{FieldName: "date", OriginalValue: "31 May", CorrectedValue: "31 May 2025"}}
	if err := store.SubmitCorrections(doc, corrections); err != nil {
		t.Fatalf("submit corrections: %v", err)
	}

	for _, strat := range fieldvalue.AllStrategyTypes {
		if _, ok, _ := perf.Get("tmpl-1", "date", strat); ok {
			t.Errorf("expected no performance record for %s without attempted-strategy provenance", strat)
		}
	}
}

func TestRecordSilentAcceptanceSkipsCorrectedFields(t *testing.T) {
	db := openTestDB(t)
	perf := performance.NewMemStore()
	store := NewStore(db, perf, nil, nil, nil)

	doc := storage.Document{
		TemplateID: "tmpl-1",
		Methods: map[string]fieldvalue.StrategyType{
			"date":  fieldvalue.RuleBased,
			"place": fieldvalue.PositionBased,
		},
		Confidences: map[string]float64{
			"date":  0.9,
			"place": 0.9,
		},
	}
	store.RecordSilentAcceptance(doc, map[string]bool{"date": true})

	if _, ok, _ := perf.Get("tmpl-1", "date", fieldvalue.RuleBased); ok {
		t.Error("expected the corrected field to be skipped")
	}
	if _, ok, _ := perf.Get("tmpl-1", "place", fieldvalue.PositionBased); !ok {
		t.Error("expected the uncorrected field to be recorded as a silent acceptance")
	}
}

func TestRecordSilentAcceptanceSkipsLowConfidenceFields(t *testing.T) {
	db := openTestDB(t)
	perf := performance.NewMemStore()
	settings := config.Default()
	store := NewStore(db, perf, nil, nil, settings)

	doc := storage.Document{
		TemplateID: "tmpl-1",
		Methods: map[string]fieldvalue.StrategyType{
			"date": fieldvalue.RuleBased,
		},
		Confidences: map[string]float64{
			"date": settings.SilentAcceptanceCutoff - 0.1,
		},
	}
	store.RecordSilentAcceptance(doc, map[string]bool{})

	if _, ok, _ := perf.Get("tmpl-1", "date", fieldvalue.RuleBased); ok {
		t.Error("expected a below-cutoff-confidence field to be excluded from silent acceptance")
	}
}

func docWords() []word.Word {
	return []word.Word{
		{Text: "Date:", PageIndex: 0, X0: 10, Y0: 100, X1: 50, Y1: 112},
		{Text: "31", PageIndex: 0, X0: 55, Y0: 100, X1: 65, Y1: 112},
		{Text: "May", PageIndex: 0, X0: 68, Y0: 100, X1: 90, Y1: 112},
		{Text: "2025", PageIndex: 0, X0: 93, Y0: 100, X1: 120, Y1: 112},
	}
}

func TestPrepareTrainingSetBuildsSequenceFromCorrection(t *testing.T) {
	db := openTestDB(t)
	settings := config.Default()

	doc := storage.Document{
		ID:            "doc-1",
		TemplateID:    "tmpl-1",
		PageWords:     docWords(),
		ExtractedData: map[string]string{},
		Confidences:   map[string]float64{},
	}
	if err := db.PutDocument(doc); err != nil {
		t.Fatalf("put document: %v", err)
	}
	id, err := db.NextFeedbackID("tmpl-1")
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if err := db.PutFeedback(storage.Feedback{
		ID: id, TemplateID: "tmpl-1", DocumentID: "doc-1",
		FieldName: "date", OriginalValue: "31 May", CorrectedValue: "31 May 2025",
	}); err != nil {
		t.Fatalf("put feedback: %v", err)
	}

	labelSet := crf.BuildLabelSet([]string{"date"})
	sequences, consumed, err := PrepareTrainingSet(db, "tmpl-1", labelSet, []string{"date"}, settings, false)
	if err != nil {
		t.Fatalf("prepare training set: %v", err)
	}
	if len(sequences) != 1 {
		t.Fatalf("expected one training sequence, got %d", len(sequences))
	}
	if len(consumed) != 1 || consumed[0] != id {
		t.Errorf("expected the feedback id to be listed as consumed, got %v", consumed)
	}
	if !crf.ValidBIO(sequences[0].LabelText) {
		t.Errorf("expected a valid BIO label sequence, got %v", sequences[0].LabelText)
	}
}

func TestPrepareTrainingSetIncludesSilentAcceptanceAboveCutoff(t *testing.T) {
	db := openTestDB(t)
	settings := config.Default()

	doc := storage.Document{
		ID:         "doc-1",
		TemplateID: "tmpl-1",
		PageWords:  docWords(),
		ExtractedData: map[string]string{
			"date": "31 May 2025",
		},
		Confidences: map[string]float64{
			"date": settings.SilentAcceptanceCutoff + 0.1,
		},
	}
	if err := db.PutDocument(doc); err != nil {
		t.Fatalf("put document: %v", err)
	}

	// PrepareTrainingSet only visits documents that have a feedback row, so
	// this test reaches silentAcceptancePairs through that public seam: a
	// feedback row naming a different field on the same document pulls
	// doc-1 into byDocument, letting its silent high-confidence date field
	// ride along.
	id, err := db.NextFeedbackID("tmpl-1")
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if err := db.PutFeedback(storage.Feedback{
		ID: id, TemplateID: "tmpl-1", DocumentID: "doc-1",
		FieldName: "place", OriginalValue: "Jakarta", CorrectedValue: "Bandung",
	}); err != nil {
		t.Fatalf("put feedback: %v", err)
	}

	labelSet := crf.BuildLabelSet([]string{"date", "place"})
	sequences, _, err := PrepareTrainingSet(db, "tmpl-1", labelSet, []string{"date", "place"}, settings, false)
	if err != nil {
		t.Fatalf("prepare training set: %v", err)
	}
	if len(sequences) != 1 {
		t.Fatalf("expected one training sequence, got %d", len(sequences))
	}
	foundDateLabel := false
	for _, l := range sequences[0].LabelText {
		if l == "B-DATE" {
			foundDateLabel = true
		}
	}
	if !foundDateLabel {
		t.Errorf("expected the silently-accepted date field to contribute a label, got %v", sequences[0].LabelText)
	}
}

func newRetrainHarness(t *testing.T) (*Retrainer, *storage.Store, *storage.ModelStore) {
	t.Helper()
	db := openTestDB(t)
	models, err := storage.NewModelStore(t.TempDir())
	if err != nil {
		t.Fatalf("new model store: %v", err)
	}
	catalogues := postprocess.NewStore()
	settings := config.Default()
	settings.RetrainThreshold = 1
	r := NewRetrainer(db, models, catalogues, settings, nil, nil)
	return r, db, models
}

func TestMaybeRetrainSkipsBelowThreshold(t *testing.T) {
	db := openTestDB(t)
	models, err := storage.NewModelStore(t.TempDir())
	if err != nil {
		t.Fatalf("new model store: %v", err)
	}
	settings := config.Default()
	settings.RetrainThreshold = 100
	r := NewRetrainer(db, models, postprocess.NewStore(), settings, nil, nil)

	outcome, err := r.MaybeRetrain(context.Background(), "tmpl-1", crf.BuildLabelSet([]string{"date"}), []string{"date"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != nil {
		t.Errorf("expected no retrain below threshold, got %+v", outcome)
	}
}

func TestMaybeRetrainRespectsCooldown(t *testing.T) {
	r, db, _ := newRetrainHarness(t)

	if err := db.AppendTrainingHistory(storage.TrainingHistoryEntry{
		TemplateID: "tmpl-1",
		TrainedAt:  time.Now(),
		Status:     storage.StatusAccepted,
	}); err != nil {
		t.Fatalf("append history: %v", err)
	}
	if err := db.PutFeedback(storage.Feedback{ID: 1, TemplateID: "tmpl-1", FieldName: "date"}); err != nil {
		t.Fatalf("put feedback: %v", err)
	}

	_, err := r.MaybeRetrain(context.Background(), "tmpl-1", crf.BuildLabelSet([]string{"date"}), []string{"date"}, false)
	if err != ErrCoolingDown {
		t.Errorf("expected ErrCoolingDown, got %v", err)
	}
}

func TestMaybeRetrainFailsWithNoTrainableSequences(t *testing.T) {
	r, db, _ := newRetrainHarness(t)

	if err := db.PutFeedback(storage.Feedback{
		ID: 1, TemplateID: "tmpl-1", DocumentID: "missing-doc",
		FieldName: "date", CorrectedValue: "31 May 2025",
	}); err != nil {
		t.Fatalf("put feedback: %v", err)
	}

	outcome, err := r.MaybeRetrain(context.Background(), "tmpl-1", crf.BuildLabelSet([]string{"date"}), []string{"date"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome == nil || outcome.Status != storage.StatusFailed {
		t.Fatalf("expected a failed outcome when the feedback's document can't be found, got %+v", outcome)
	}
}

func TestMaybeRetrainAcceptsAndSwapsModel(t *testing.T) {
	r, db, models := newRetrainHarness(t)

	doc := storage.Document{ID: "doc-1", TemplateID: "tmpl-1", PageWords: docWords()}
	if err := db.PutDocument(doc); err != nil {
		t.Fatalf("put document: %v", err)
	}
	if err := db.PutFeedback(storage.Feedback{
		ID: 1, TemplateID: "tmpl-1", DocumentID: "doc-1",
		FieldName: "date", OriginalValue: "31 May", CorrectedValue: "31 May 2025",
	}); err != nil {
		t.Fatalf("put feedback: %v", err)
	}

	outcome, err := r.MaybeRetrain(context.Background(), "tmpl-1", crf.BuildLabelSet([]string{"date"}), []string{"date"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome == nil || outcome.Status != storage.StatusAccepted {
		t.Fatalf("expected an accepted outcome, got %+v", outcome)
	}
	if !models.Exists("tmpl-1") {
		t.Error("expected a live model to exist after acceptance")
	}

	count, err := db.UnusedFeedbackCount("tmpl-1")
	if err != nil {
		t.Fatalf("unused feedback count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected consumed feedback to be marked used, got %d still unused", count)
	}

	last, ok, err := db.LastTrainingHistory("tmpl-1")
	if err != nil || !ok {
		t.Fatalf("expected a training history row, ok=%v err=%v", ok, err)
	}
	if last.Status != storage.StatusAccepted {
		t.Errorf("expected the history row to record acceptance, got %v", last.Status)
	}
}
