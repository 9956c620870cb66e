package memory

import (
	"context"
	"sync"
)

type indexEntry struct {
	surveyID    string
	itemID      string
	hash        string
	duplicateOf string
}

// ImageIndex is the in-memory perceptual hash index. Lookups are scoped to
// a survey and only ever return canonical entries, so duplicate links form
// a flat graph pointing at one owner.
type ImageIndex struct {
	mu      sync.RWMutex
	entries []indexEntry
}

// NewImageIndex constructs an empty index.
func NewImageIndex() *ImageIndex {
	return &ImageIndex{}
}

// FindCanonical returns the oldest canonical entry in the survey with the
// given hash, excluding the caller's own item.
func (x *ImageIndex) FindCanonical(_ context.Context, surveyID, hash, excludeItemID string) (string, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, e := range x.entries {
		if e.surveyID == surveyID && e.hash == hash && e.duplicateOf == "" && e.itemID != excludeItemID {
			return e.itemID, true, nil
		}
	}
	return "", false, nil
}

// Record appends an index entry. An empty duplicateOf marks the entry
// canonical.
func (x *ImageIndex) Record(_ context.Context, surveyID, itemID, hash string, duplicateOf string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = append(x.entries, indexEntry{
		surveyID:    surveyID,
		itemID:      itemID,
		hash:        hash,
		duplicateOf: duplicateOf,
	})
	return nil
}
