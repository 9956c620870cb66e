package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// ResultStore keeps result rows in-memory. Each item gets at most one row,
// matching the immutable one-row-per-item contract of the Postgres store.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]pipeline.Result
	order   []string
}

// NewResultStore constructs an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]pipeline.Result)}
}

// StoreResult records a result row. Rewriting an item's row is rejected.
func (s *ResultStore) StoreResult(_ context.Context, result pipeline.Result) error {
	if result.ItemID == "" {
		return fmt.Errorf("result item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.ItemID]; exists {
		return fmt.Errorf("result for item %q already stored", result.ItemID)
	}
	s.results[result.ItemID] = result
	s.order = append(s.order, result.ItemID)
	return nil
}

// Result fetches a stored row by item ID.
func (s *ResultStore) Result(itemID string) (pipeline.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[itemID]
	return r, ok
}

// Results returns all rows in insertion order.
func (s *ResultStore) Results() []pipeline.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Result, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.results[id])
	}
	return out
}
