// Package storage persists the repository's durable records (§3, §6):
// Documents, Feedback, TrainingHistory and StrategyPerformance on top of
// dgraph-io/badger/v4 with msgpack encoding — the same engine and wire
// format `omni`'s storage layer uses (see DESIGN.md) — and the CRF Model
// blob as msgpack files on disk (ModelStore).
package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/agen/fieldextract/internal/fieldvalue"
	"github.com/agen/fieldextract/internal/performance"
	"github.com/agen/fieldextract/internal/word"
)

// Document is one persisted extraction result (§6: "one record per
// extraction with the full extraction result").
type Document struct {
	ID             string                             `msgpack:"id"`
	TemplateID     string                             `msgpack:"template_id"`
	ExtractedData  map[string]string                  `msgpack:"extracted_data"`
	Confidences    map[string]float64                 `msgpack:"confidences"`
	Methods        map[string]fieldvalue.StrategyType `msgpack:"methods"`
	StrategiesUsed []StrategyUsed                      `msgpack:"strategies_used"`
	CreatedAt      time.Time                           `msgpack:"created_at"`
	// PageWords is the tokenized page this document was extracted from,
	// persisted so a later retrain can rebuild labeled training sequences
	// without re-tokenizing the source PDF (supplements §3's Document,
	// which the spec leaves silent on retrain-time word provenance).
	PageWords []word.Word `msgpack:"page_words"`
}

// StrategyUsed is one field's provenance entry within a document's
// metadata.strategies_used (§6). FieldName is always non-null.
type StrategyUsed struct {
	FieldName              string                                                `msgpack:"field_name"`
	Method                 fieldvalue.StrategyType                               `msgpack:"method"`
	Confidence             float64                                               `msgpack:"confidence"`
	AllStrategiesAttempted map[fieldvalue.StrategyType]fieldvalue.AttemptRecord `msgpack:"all_strategies_attempted"`
}

// Feedback is one persisted correction (§3 FeedbackRecord, §6).
// TemplateID is not part of §3's data model but is needed to scope the
// storage key.
type Feedback struct {
	ID              int64     `msgpack:"id"`
	TemplateID      string    `msgpack:"template_id"`
	DocumentID      string    `msgpack:"document_id"`
	FieldName       string    `msgpack:"field_name"`
	OriginalValue   string    `msgpack:"original_value"`
	CorrectedValue  string    `msgpack:"corrected_value"`
	UsedForTraining bool      `msgpack:"used_for_training"`
	CreatedAt       time.Time `msgpack:"created_at"`
}

// TrainingStatus enumerates §6's append-only TrainingHistory status.
type TrainingStatus string

const (
	StatusAccepted TrainingStatus = "accepted"
	StatusRejected TrainingStatus = "rejected"
	StatusFailed   TrainingStatus = "failed"
)

// TrainingHistoryEntry is one append-only TrainingHistory row (§3, §6).
type TrainingHistoryEntry struct {
	TemplateID      string         `msgpack:"template_id"`
	TrainedAt       time.Time      `msgpack:"trained_at"`
	TrainingSamples int            `msgpack:"training_samples"`
	TrainAccuracy   float64        `msgpack:"train_accuracy"`
	TestAccuracy    float64        `msgpack:"test_accuracy"`
	ModelPath       string         `msgpack:"model_path"`
	Status          TrainingStatus `msgpack:"status"`
	DiversityRatio  float64        `msgpack:"diversity_ratio"`
	Warning         string         `msgpack:"warning,omitempty"`
}

// Store is the badger-backed persistence layer. Key layout:
//
//	doc:<template_id>:<document_id>        -> Document
//	feedback:<template_id>:<id>             -> Feedback
//	feedback_seq:<template_id>               -> int64 sequence counter
//	history:<template_id>:<trained_at_unix_nano> -> TrainingHistoryEntry
//	perf:<template_id>:<field>:<strategy>   -> performance.Record
type Store struct {
	db      *badger.DB
	seqLock sync.Mutex // serializes the per-template feedback id sequence
}

// Open opens (creating if necessary) a badger database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (s *Store) set(key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(key string, v any) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return decode(val, v)
		})
	})
	return found, err
}

func (s *Store) scanPrefix(prefix string, visit func(key string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				return visit(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Documents -------------------------------------------------------------

func docKey(templateID, documentID string) string {
	return fmt.Sprintf("doc:%s:%s", templateID, documentID)
}

// PutDocument persists an extraction result.
func (s *Store) PutDocument(doc Document) error {
	return s.set(docKey(doc.TemplateID, doc.ID), doc)
}

// GetDocument retrieves a previously persisted extraction result.
func (s *Store) GetDocument(templateID, documentID string) (Document, bool, error) {
	var doc Document
	found, err := s.get(docKey(templateID, documentID), &doc)
	return doc, found, err
}

// --- Feedback ---------------------------------------------------------------

func feedbackKey(templateID string, id int64) string {
	return fmt.Sprintf("feedback:%s:%020d", templateID, id)
}

func feedbackSeqKey(templateID string) string {
	return fmt.Sprintf("feedback_seq:%s", templateID)
}

// NextFeedbackID allocates the next monotonic feedback id for a template.
func (s *Store) NextFeedbackID(templateID string) (int64, error) {
	s.seqLock.Lock()
	defer s.seqLock.Unlock()

	var current int64
	_, err := s.get(feedbackSeqKey(templateID), &current)
	if err != nil {
		return 0, err
	}
	current++
	if err := s.set(feedbackSeqKey(templateID), current); err != nil {
		return 0, err
	}
	return current, nil
}

// PutFeedback persists a feedback record.
func (s *Store) PutFeedback(f Feedback) error {
	return s.set(feedbackKey(f.TemplateID, f.ID), f)
}

// MarkFeedbackUsed flips used_for_training to true for a set of feedback
// ids (§4.9 step 5: "mark the consumed feedback rows used_for_training =
// true"). Records not found are skipped rather than erroring, so a
// partially-applied retry is safe.
func (s *Store) MarkFeedbackUsed(templateID string, ids []int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			key := []byte(feedbackKey(templateID, id))
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var f Feedback
			if err := item.Value(func(val []byte) error { return decode(val, &f) }); err != nil {
				return err
			}
			f.UsedForTraining = true
			data, err := encode(f)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListFeedback returns every feedback record for a template, in id order.
func (s *Store) ListFeedback(templateID string) ([]Feedback, error) {
	var out []Feedback
	prefix := fmt.Sprintf("feedback:%s:", templateID)
	err := s.scanPrefix(prefix, func(key string, val []byte) error {
		var f Feedback
		if err := decode(val, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UnusedFeedbackCount counts feedback rows with used_for_training=false
// for a template, the quantity §4.9's trigger check compares against the
// retrain threshold.
func (s *Store) UnusedFeedbackCount(templateID string) (int, error) {
	rows, err := s.ListFeedback(templateID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range rows {
		if !f.UsedForTraining {
			count++
		}
	}
	return count, nil
}

// --- TrainingHistory ---------------------------------------------------------

func historyKey(templateID string, trainedAt time.Time) string {
	return fmt.Sprintf("history:%s:%020d", templateID, trainedAt.UnixNano())
}

// AppendTrainingHistory appends a row; the history is never mutated in
// place (§3, §6: "append-only").
func (s *Store) AppendTrainingHistory(e TrainingHistoryEntry) error {
	return s.set(historyKey(e.TemplateID, e.TrainedAt), e)
}

// ListTrainingHistory returns every history row for a template, oldest
// first.
func (s *Store) ListTrainingHistory(templateID string) ([]TrainingHistoryEntry, error) {
	var out []TrainingHistoryEntry
	prefix := fmt.Sprintf("history:%s:", templateID)
	err := s.scanPrefix(prefix, func(key string, val []byte) error {
		var e TrainingHistoryEntry
		if err := decode(val, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrainedAt.Before(out[j].TrainedAt) })
	return out, nil
}

// LastTrainingHistory returns the most recent history row for a template,
// used both by the Retrainer's cooldown check and by "previous
// test_accuracy" comparisons (§4.9 step 4).
func (s *Store) LastTrainingHistory(templateID string) (TrainingHistoryEntry, bool, error) {
	rows, err := s.ListTrainingHistory(templateID)
	if err != nil || len(rows) == 0 {
		return TrainingHistoryEntry{}, false, err
	}
	return rows[len(rows)-1], true, nil
}

// --- StrategyPerformance -----------------------------------------------------

func perfKey(templateID, fieldName string, strategy fieldvalue.StrategyType) string {
	return fmt.Sprintf("perf:%s:%s:%s", templateID, fieldName, strategy)
}

// PerformanceStore adapts Store to performance.Store, so the arbiter can
// read the persisted accuracy snapshot instead of an in-memory stand-in.
type PerformanceStore struct{ s *Store }

// Performance returns a performance.Store view over this Store.
func (s *Store) Performance() *PerformanceStore { return &PerformanceStore{s: s} }

func (p *PerformanceStore) Get(templateID, fieldName string, strategy fieldvalue.StrategyType) (performance.Record, bool, error) {
	var r performance.Record
	found, err := p.s.get(perfKey(templateID, fieldName, strategy), &r)
	return r, found, err
}

// Records lists every StrategyPerformance row for a template.
func (p *PerformanceStore) Records(templateID string) ([]performance.Record, error) {
	var out []performance.Record
	prefix := fmt.Sprintf("perf:%s:", templateID)
	err := p.s.scanPrefix(prefix, func(key string, val []byte) error {
		var r performance.Record
		if err := decode(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (p *PerformanceStore) Update(templateID, fieldName string, strategy fieldvalue.StrategyType, correct bool, at time.Time) error {
	if fieldName == "" {
		return fmt.Errorf("storage: empty field_name for template %q strategy %q", templateID, strategy)
	}
	key := perfKey(templateID, fieldName, strategy)
	var r performance.Record
	if _, err := p.s.get(key, &r); err != nil {
		return err
	}
	r.TemplateID = templateID
	r.FieldName = fieldName
	r.StrategyType = fieldvalue.Normalize(string(strategy))
	r.TotalExtractions++
	if correct {
		r.CorrectExtractions++
	}
	r.LastUpdated = at
	return p.s.set(key, r)
}
