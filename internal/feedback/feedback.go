// Package feedback implements §4.3/§4.9's feedback loop: recording user
// corrections against the Strategy-Performance Tracker, assembling the
// training set (corrections union silent-acceptance samples), and
// retraining the CRF model under the safeguards §5/§4.9 require.
package feedback

import (
	"context"
	"time"

	"github.com/agen/fieldextract/internal/config"
	"github.com/agen/fieldextract/internal/crf"
	"github.com/agen/fieldextract/internal/logging"
	"github.com/agen/fieldextract/internal/metrics"
	"github.com/agen/fieldextract/internal/performance"
	"github.com/agen/fieldextract/internal/storage"
)

// Correction is one caller-submitted field correction (§6's
// submit_corrections operation, one entry per corrected field).
type Correction struct {
	FieldName      string
	OriginalValue  string
	CorrectedValue string
}

// Store wires feedback submission to the durable storage.Store and the
// Strategy-Performance Tracker, so a correction's effect on both is
// recorded atomically from the caller's point of view.
type Store struct {
	db       *storage.Store
	perf     performance.Store
	rec      *metrics.Recorder
	log      *logging.Logger
	settings *config.Settings
}

// NewStore builds a Store. perf is typically db.Performance(), passed
// separately so tests can substitute performance.NewMemStore(). rec may
// be nil, in which case strategy-attempt metrics are simply not emitted.
// settings may be nil, in which case config.Default() applies.
func NewStore(db *storage.Store, perf performance.Store, rec *metrics.Recorder, log *logging.Logger, settings *config.Settings) *Store {
	if settings == nil {
		settings = config.Default()
	}
	return &Store{db: db, perf: perf, rec: rec, log: log, settings: settings}
}

// SubmitCorrections implements §6's submit_corrections and §4.7's
// "Learning from corrections": for each corrected field, it persists a
// Feedback row, then — for every strategy recorded in that field's
// metadata.all_strategies_attempted, not just the one that won — updates
// StrategyPerformance, charging every strategy's attempt as a miss when
// the corrected value differs from the original and as correct when the
// submitted value is unchanged. Entries whose
// field identity can't be resolved are skipped with a warning, never
// inserted under an unknown field_name (§7). Every remaining,
// uncorrected field whose confidence clears the silent-acceptance cutoff
// is then recorded as a silent
// acceptance (see RecordSilentAcceptance) — this is also the only place
// performance is written from (§9: never from extraction).
func (s *Store) SubmitCorrections(doc storage.Document, corrections []Correction) error {
	now := time.Now()
	corrected := make(map[string]bool, len(corrections))
	for _, c := range corrections {
		corrected[c.FieldName] = true

		id, err := s.db.NextFeedbackID(doc.TemplateID)
		if err != nil {
			return err
		}
		f := storage.Feedback{
			ID:             id,
			TemplateID:     doc.TemplateID,
			DocumentID:     doc.ID,
			FieldName:      c.FieldName,
			OriginalValue:  c.OriginalValue,
			CorrectedValue: c.CorrectedValue,
			CreatedAt:      now,
		}
		if err := s.db.PutFeedback(f); err != nil {
			return err
		}

		su, ok := findStrategyUsed(doc, c.FieldName)
		if !ok || su.FieldName == "" {
			if s.log != nil {
				s.log.Warn("feedback: no all_strategies_attempted provenance for %s/%s, skipping performance update", doc.TemplateID, c.FieldName)
			}
			continue
		}
		correct := c.OriginalValue == c.CorrectedValue
		for strategyType := range su.AllStrategiesAttempted {
			if err := s.perf.Update(doc.TemplateID, c.FieldName, strategyType, correct, now); err != nil {
				s.debugf("feedback: performance update failed for %s/%s/%s: %v", doc.TemplateID, c.FieldName, strategyType, err)
			}
			s.rec.RecordAttempt(context.Background(), doc.TemplateID, c.FieldName, string(strategyType), correct)
		}
	}

	s.RecordSilentAcceptance(doc, corrected)
	return nil
}

// findStrategyUsed returns the field's provenance entry from
// metadata.strategies_used, the source of all_strategies_attempted.
func findStrategyUsed(doc storage.Document, fieldName string) (storage.StrategyUsed, bool) {
	for _, su := range doc.StrategiesUsed {
		if su.FieldName == fieldName {
			return su, true
		}
	}
	return storage.StrategyUsed{}, false
}

// RecordSilentAcceptance updates the performance tracker for every field
// of a document that was never corrected and whose confidence cleared
// settings.SilentAcceptanceCutoff (§4.3: "a field that survives
// confirmation uncorrected is itself a positive signal" — the Glossary's
// silent-acceptance sample definition, also applied by
// silentAcceptancePairs for CRF training), without emitting a Feedback
// row — only user-visible corrections are persisted as feedback. Called
// only from SubmitCorrections (§9: performance writes never happen from
// extraction), so every silent acceptance is recorded alongside whatever
// real corrections arrived in the same submission.
func (s *Store) RecordSilentAcceptance(doc storage.Document, correctedFields map[string]bool) {
	now := time.Now()
	for field, method := range doc.Methods {
		if correctedFields[field] {
			continue
		}
		conf, ok := doc.Confidences[field]
		if !ok || conf < s.settings.SilentAcceptanceCutoff {
			continue
		}
		if err := s.perf.Update(doc.TemplateID, field, method, true, now); err != nil {
			s.debugf("feedback: silent-acceptance performance update failed for %s/%s: %v", doc.TemplateID, field, err)
		}
		s.rec.RecordAttempt(context.Background(), doc.TemplateID, field, string(method), true)
	}
}

func (s *Store) debugf(format string, args ...any) {
	if s.log != nil {
		s.log.Debug(format, args...)
	}
}

// PrepareTrainingSet implements §4.9/§9 Open Question (a): builds one
// crf.Sequence per document from that document's corrections (weight
// 1.0) union its silently-accepted high-confidence extractions (weight
// settings.SilentAcceptanceWeight), for every field whose confidence
// cleared settings.SilentAcceptanceCutoff. useAllFeedback controls
// whether already-consumed feedback rows are included again (§6's
// use_all_feedback flag) or only the unused backlog.
func PrepareTrainingSet(db *storage.Store, templateID string, labelSet, fields []string, settings *config.Settings, useAllFeedback bool) ([]crf.Sequence, []int64, error) {
	feedbackRows, err := db.ListFeedback(templateID)
	if err != nil {
		return nil, nil, err
	}

	byDocument := map[string][]crf.GroundTruthPair{}
	var consumedIDs []int64
	correctedFields := map[string]map[string]bool{}

	for _, f := range feedbackRows {
		if !useAllFeedback && f.UsedForTraining {
			continue
		}
		byDocument[f.DocumentID] = append(byDocument[f.DocumentID], crf.GroundTruthPair{
			FieldName: f.FieldName,
			Value:     f.CorrectedValue,
			Weight:    1.0,
		})
		if correctedFields[f.DocumentID] == nil {
			correctedFields[f.DocumentID] = map[string]bool{}
		}
		correctedFields[f.DocumentID][f.FieldName] = true
		consumedIDs = append(consumedIDs, f.ID)
	}

	var sequences []crf.Sequence
	for documentID, pairs := range byDocument {
		doc, found, err := db.GetDocument(templateID, documentID)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			continue
		}

		pairs = append(pairs, silentAcceptancePairs(doc, correctedFields[documentID], settings)...)

		seq, ok := crf.PrepareSequence(documentID, doc.PageWords, pairs, labelSet)
		if ok {
			sequences = append(sequences, seq)
		}
	}

	return sequences, consumedIDs, nil
}

// silentAcceptancePairs returns the document's high-confidence,
// never-corrected fields as weakly-weighted ground truth pairs.
func silentAcceptancePairs(doc storage.Document, corrected map[string]bool, settings *config.Settings) []crf.GroundTruthPair {
	var out []crf.GroundTruthPair
	for field, value := range doc.ExtractedData {
		if corrected[field] {
			continue
		}
		conf, ok := doc.Confidences[field]
		if !ok || conf < settings.SilentAcceptanceCutoff {
			continue
		}
		out = append(out, crf.GroundTruthPair{
			FieldName: field,
			Value:     value,
			Weight:    settings.SilentAcceptanceWeight,
		})
	}
	return out
}
