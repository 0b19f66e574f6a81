// Package performance implements the Strategy-Performance Tracker (§4.7,
// §3's StrategyPerformance row): a running per-(template, field,
// strategy) accuracy and attempt count the Hybrid Arbiter reads to derive
// its adaptive thresholds and scoring weights.
package performance

import (
	"fmt"
	"sync"
	"time"

	"github.com/agen/fieldextract/internal/fieldvalue"
)

// Record mirrors §3's StrategyPerformance row. FieldName is never empty:
// rows with unknown field identity are discarded before they reach the
// store, not inserted (§3, §7).
type Record struct {
	TemplateID         string                  `msgpack:"template_id" json:"template_id"`
	FieldName          string                  `msgpack:"field_name" json:"field_name"`
	StrategyType       fieldvalue.StrategyType `msgpack:"strategy_type" json:"strategy_type"`
	TotalExtractions   int                     `msgpack:"total_extractions" json:"total_extractions"`
	CorrectExtractions int                     `msgpack:"correct_extractions" json:"correct_extractions"`
	LastUpdated        time.Time               `msgpack:"last_updated" json:"last_updated"`
}

// Accuracy is CorrectExtractions/TotalExtractions, 0 when there is no
// history yet.
func (r Record) Accuracy() float64 {
	if r.TotalExtractions == 0 {
		return 0
	}
	return float64(r.CorrectExtractions) / float64(r.TotalExtractions)
}

// Store persists StrategyPerformance rows. Reads happen once per field
// per arbiter invocation (§9's "snapshot-in-time" rule breaking the
// feedback-performance-arbiter-extraction cycle); writes happen only
// from the feedback path.
type Store interface {
	Get(templateID, fieldName string, strategy fieldvalue.StrategyType) (Record, bool, error)
	Update(templateID, fieldName string, strategy fieldvalue.StrategyType, correct bool, at time.Time) error
	// Records returns every row for a template, across every field and
	// strategy. The arbiter uses this to compute the CRF strategy_weight's
	// avg_CRF_acc_over_fields term (§4.7).
	Records(templateID string) ([]Record, error)
}

// MemStore is an in-process Store, the default when no persistent backend
// is wired (tests). Production
// callers back this interface with internal/storage instead.
type MemStore struct {
	mu   sync.RWMutex
	rows map[string]Record
}

// NewMemStore constructs an empty in-memory tracker.
func NewMemStore() *MemStore {
	return &MemStore{rows: map[string]Record{}}
}

func key(templateID, fieldName string, strategy fieldvalue.StrategyType) string {
	return fmt.Sprintf("%s|%s|%s", templateID, fieldName, strategy)
}

func (m *MemStore) Get(templateID, fieldName string, strategy fieldvalue.StrategyType) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[key(templateID, fieldName, strategy)]
	return r, ok, nil
}

func (m *MemStore) Update(templateID, fieldName string, strategy fieldvalue.StrategyType, correct bool, at time.Time) error {
	if fieldName == "" {
		// §3/§7: never insert a row with unknown field identity.
		return fmt.Errorf("performance: empty field_name for template %q strategy %q", templateID, strategy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(templateID, fieldName, strategy)
	r := m.rows[k]
	r.TemplateID = templateID
	r.FieldName = fieldName
	r.StrategyType = fieldvalue.Normalize(string(strategy))
	r.TotalExtractions++
	if correct {
		r.CorrectExtractions++
	}
	r.LastUpdated = at
	m.rows[k] = r
	return nil
}

func (m *MemStore) Records(templateID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.rows {
		if r.TemplateID == templateID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Snapshot is the (attempts, accuracy) pair the arbiter reads once per
// field, per strategy (§9's snapshot-in-time rule).
type Snapshot struct {
	Attempts int
	Accuracy float64
}

// Read takes a snapshot for one (template, field, strategy), defaulting
// to the zero snapshot (0 attempts, 0 accuracy) when no row exists yet —
// the "otherwise" row of §4.7's threshold/weight tables.
func Read(store Store, templateID, fieldName string, strategy fieldvalue.StrategyType) Snapshot {
	r, ok, err := store.Get(templateID, fieldName, strategy)
	if err != nil || !ok {
		return Snapshot{}
	}
	return Snapshot{Attempts: r.TotalExtractions, Accuracy: r.Accuracy()}
}
