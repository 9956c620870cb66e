// Package memory provides an in-memory work queue for development and
// testing. The claim protocol matches the storage-backed queue: one locked
// read-modify-write flips PENDING to CLAIMED, so two concurrent claimers
// can never receive the same item.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// Queue holds the backlog behind a single mutex.
type Queue struct {
	mu          sync.Mutex
	items       map[string]*pipeline.WorkItem
	pending     []string
	completions map[string]pipeline.CompletionState
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items:       make(map[string]*pipeline.WorkItem),
		completions: make(map[string]pipeline.CompletionState),
	}
}

// Add registers new PENDING items.
func (q *Queue) Add(items ...pipeline.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range items {
		if _, exists := q.items[item.ID]; exists {
			continue
		}
		item.State = pipeline.ItemStatePending
		stored := item
		q.items[item.ID] = &stored
		q.pending = append(q.pending, item.ID)
	}
}

// Claim picks a random PENDING item, marks it CLAIMED and returns a copy.
// Returns (nil, nil) when the backlog is empty. Random selection spreads
// concurrent workers across surveys.
func (q *Queue) Claim(ctx context.Context) (*pipeline.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("claim canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	idx := rand.IntN(len(q.pending))
	id := q.pending[idx]
	q.pending[idx] = q.pending[len(q.pending)-1]
	q.pending = q.pending[:len(q.pending)-1]

	item := q.items[id]
	item.State = pipeline.ItemStateClaimed
	claimed := *item
	return &claimed, nil
}

// Complete writes the terminal state for a claimed item.
func (q *Queue) Complete(_ context.Context, itemID string, state pipeline.ItemState, completion pipeline.CompletionState) error {
	if state != pipeline.ItemStateSucceeded && state != pipeline.ItemStateFailed {
		return fmt.Errorf("state %q is not terminal", state)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[itemID]
	if !ok {
		return fmt.Errorf("unknown item %q", itemID)
	}
	if item.State != pipeline.ItemStateClaimed {
		return fmt.Errorf("item %q is %s, not CLAIMED", itemID, item.State)
	}
	item.State = state
	if completion != "" {
		q.completions[itemID] = completion
	}
	return nil
}

// PendingCount reports the remaining backlog size.
func (q *Queue) PendingCount(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// Item returns a copy of an item's current record, for tests and the
// status API.
func (q *Queue) Item(itemID string) (pipeline.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[itemID]
	if !ok {
		return pipeline.WorkItem{}, false
	}
	return *item, true
}

// Completion returns the usability marker recorded for an item.
func (q *Queue) Completion(itemID string) (pipeline.CompletionState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.completions[itemID]
	return c, ok
}
