package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/agen/fieldextract/internal/crf"
)

// ModelStore persists CRF model blobs as msgpack files on disk, one per
// template, with the atomic-replace and backup-before-swap discipline
// §3/§5/§4.9 require: "backed up before replacement, restored if
// validation fails", and the model file is "atomically replaced by
// Retrainer via copy-then-rename".
type ModelStore struct {
	dir string
}

// NewModelStore roots a ModelStore at dir, creating it if necessary.
func NewModelStore(dir string) (*ModelStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create model dir: %w", err)
	}
	return &ModelStore{dir: dir}, nil
}

func (m *ModelStore) path(templateID string) string {
	return filepath.Join(m.dir, templateID+".model")
}

func (m *ModelStore) backupPath(templateID string) string {
	return filepath.Join(m.dir, templateID+".model.bak")
}

// Path exposes the live model file path, for mtime-based cache
// invalidation (§5).
func (m *ModelStore) Path(templateID string) string { return m.path(templateID) }

// Exists reports whether a model file exists for a template. The retrain
// trigger does not consult it: a retrain runs and swaps in a model whether
// or not one already exists.
func (m *ModelStore) Exists(templateID string) bool {
	_, err := os.Stat(m.path(templateID))
	return err == nil
}

// ModTime returns the live model file's modification time, used by the
// CRF Strategy's lazy-reload cache (§5).
func (m *ModelStore) ModTime(templateID string) (int64, error) {
	info, err := os.Stat(m.path(templateID))
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

// Load reads the live model for a template.
func (m *ModelStore) Load(templateID string) (*crf.Model, error) {
	data, err := os.ReadFile(m.path(templateID))
	if err != nil {
		return nil, fmt.Errorf("storage: read model %s: %w", templateID, err)
	}
	var model crf.Model
	if err := msgpack.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("storage: decode model %s: %w", templateID, err)
	}
	return &model, nil
}

// Backup copies the current live model to the backup path, per §4.9
// step 1. It is a no-op (not an error) when no live model exists yet.
func (m *ModelStore) Backup(templateID string) error {
	src := m.path(templateID)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("storage: read model for backup %s: %w", templateID, err)
	}
	if err := os.WriteFile(m.backupPath(templateID), data, 0o644); err != nil {
		return fmt.Errorf("storage: write model backup %s: %w", templateID, err)
	}
	return nil
}

// Swap atomically replaces the live model with newModel via write-to-temp
// then rename (§5: "copy-then-rename").
func (m *ModelStore) Swap(templateID string, newModel *crf.Model) error {
	data, err := msgpack.Marshal(newModel)
	if err != nil {
		return fmt.Errorf("storage: encode model %s: %w", templateID, err)
	}
	tmp := m.path(templateID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write model tmp %s: %w", templateID, err)
	}
	if err := os.Rename(tmp, m.path(templateID)); err != nil {
		return fmt.Errorf("storage: rename model into place %s: %w", templateID, err)
	}
	return nil
}

// RestoreBackup replaces the live model with the backup, per §4.9 steps
// 4/exception-handling ("restore backup"). It is a no-op when no backup
// exists.
func (m *ModelStore) RestoreBackup(templateID string) error {
	backup := m.backupPath(templateID)
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		return fmt.Errorf("storage: read model backup %s: %w", templateID, err)
	}
	tmp := m.path(templateID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write restored model tmp %s: %w", templateID, err)
	}
	return os.Rename(tmp, m.path(templateID))
}

// DeleteBackup removes the backup file, per §4.9 step 5 ("delete
// backup") after a successful swap.
func (m *ModelStore) DeleteBackup(templateID string) error {
	err := os.Remove(m.backupPath(templateID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete model backup %s: %w", templateID, err)
	}
	return nil
}

// cachedModel pairs a loaded model with the mtime it was loaded at.
type cachedModel struct {
	model *crf.Model
	mtime int64
}

// ModelCache implements the CRF Strategy's strategy.ModelSource: it loads
// each template's model lazily on first use and reloads it only when the
// backing file's mtime changes (§5), so a retrain's atomic swap is picked
// up without restarting anything and without re-reading the file on every
// extraction.
type ModelCache struct {
	store *ModelStore

	mu    sync.Mutex
	byTpl map[string]cachedModel
}

// NewModelCache wraps a ModelStore with the mtime-checked cache.
func NewModelCache(store *ModelStore) *ModelCache {
	return &ModelCache{store: store, byTpl: map[string]cachedModel{}}
}

// Current returns the current model for a template, or (nil, false) when
// no model has been trained for it yet.
func (c *ModelCache) Current(templateID string) (*crf.Model, bool) {
	mtime, err := c.store.ModTime(templateID)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.byTpl[templateID]; ok && cached.mtime == mtime {
		return cached.model, true
	}

	model, err := c.store.Load(templateID)
	if err != nil {
		return nil, false
	}
	c.byTpl[templateID] = cachedModel{model: model, mtime: mtime}
	return model, true
}
