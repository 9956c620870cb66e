package pipeline

import (
	"context"
	"image"
	"time"
)

// WorkQueue is the exactly-once claim protocol over the pending backlog.
// Claim must never hand the same PENDING item to two concurrent callers.
// A caller that crashes after claiming leaves the item CLAIMED; reclaiming
// such items is an operational decision outside this interface.
type WorkQueue interface {
	// Claim atomically selects a PENDING item, marks it CLAIMED and returns
	// it. Returns (nil, nil) when no PENDING item exists; callers back off
	// and retry. Selection order among PENDING items is unspecified.
	Claim(ctx context.Context) (*WorkItem, error)

	// Complete writes the terminal state for a previously claimed item.
	Complete(ctx context.Context, itemID string, state ItemState, completion CompletionState) error

	// PendingCount reports the remaining backlog, used for ETA reporting.
	PendingCount(ctx context.Context) (int, error)
}

// Strategy performs the network fetch for one URL.
type Strategy interface {
	// Fetch returns a populated outcome when a response was obtained
	// (any status), or a typed failure when no response could be produced.
	Fetch(ctx context.Context, url string) (*FetchOutcome, *FetchError)

	// Name tags results with the strategy that produced them.
	Name() string
}

// ResultStore persists one terminal Result per processed item.
type ResultStore interface {
	StoreResult(ctx context.Context, result Result) error
}

// ImageIndex records perceptual hashes and answers canonical lookups
// within a survey. FindCanonical must only return items that are not
// themselves duplicates.
type ImageIndex interface {
	FindCanonical(ctx context.Context, surveyID, hash, excludeItemID string) (string, bool, error)
	Record(ctx context.Context, surveyID, itemID, hash string, duplicateOf string) error
}

// DuplicateDetector resolves a decoded image against the survey's hash
// index. It returns the produced asset and, when the image duplicates an
// earlier one, the canonical item's ID.
type DuplicateDetector interface {
	Process(ctx context.Context, item WorkItem, img image.Image) (*ImageAsset, string, error)
}

// BlobStore writes image artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes per-item completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Throttler bounds concurrent in-flight requests per target host.
type Throttler interface {
	Acquire(ctx context.Context, host string) error
	Release(host string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces item and event IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
