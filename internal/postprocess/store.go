package postprocess

import (
	"fmt"
	"sync"
)

// Store caches one Catalogue per (template, field) in memory, rebuilt
// from feedback history on demand and invalidated whenever that
// template's model is retrained (§5: "the per-field learned-pattern
// catalogue in the post-processor... cached in memory, invalidated on
// retrain").
type Store struct {
	mu         sync.RWMutex
	catalogues map[string]*Catalogue
}

// NewStore constructs an empty cache.
func NewStore() *Store {
	return &Store{catalogues: map[string]*Catalogue{}}
}

func cacheKey(templateID, fieldName string) string {
	return fmt.Sprintf("%s|%s", templateID, fieldName)
}

// Get returns the cached catalogue for (templateID, fieldName), building
// it via build on first access if none is cached yet.
func (s *Store) Get(templateID, fieldName string, build func() *Catalogue) *Catalogue {
	key := cacheKey(templateID, fieldName)

	s.mu.RLock()
	c, ok := s.catalogues[key]
	s.mu.RUnlock()
	if ok {
		return c
	}

	c = build()
	s.mu.Lock()
	s.catalogues[key] = c
	s.mu.Unlock()
	return c
}

// Source adapts a Store plus a build function into the arbiter's
// CatalogueSource interface. The arbiter has no business constructing a
// Catalogue itself — that requires mining feedback history, which the
// caller's build function does — so it depends only on this narrow seam.
type Source struct {
	store *Store
	build func(templateID, fieldName string) *Catalogue
}

// NewSource wires a cache Store to the function that mines a fresh
// Catalogue on a cache miss.
func NewSource(store *Store, build func(templateID, fieldName string) *Catalogue) *Source {
	return &Source{store: store, build: build}
}

// Catalogue satisfies arbiter.CatalogueSource.
func (s *Source) Catalogue(templateID, fieldName string) *Catalogue {
	return s.store.Get(templateID, fieldName, func() *Catalogue {
		return s.build(templateID, fieldName)
	})
}

// Invalidate drops every cached catalogue for a template, forcing the
// next Get to rebuild from current feedback history. Called by the
// Retrainer after a model swap (§5).
func (s *Store) Invalidate(templateID string) {
	prefix := templateID + "|"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.catalogues {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.catalogues, key)
		}
	}
}
