// Package progress tracks pipeline throughput and emits periodic progress
// lines while a run drains the backlog.
package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// Tracker counts processed items across workers. All methods are safe for
// concurrent use; counters are atomics so the hot path never takes a lock.
type Tracker struct {
	total      int64
	batch      int64
	processed  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64

	startedAt time.Time
	clock     pipeline.Clock
	log       *zap.Logger
}

// Snapshot is a point-in-time view of a run, served by the status API.
type Snapshot struct {
	Total          int64   `json:"total"`
	Processed      int64   `json:"processed"`
	Succeeded      int64   `json:"succeeded"`
	Failed         int64   `json:"failed"`
	Duplicates     int64   `json:"duplicates"`
	SuccessRate    float64 `json:"success_rate"`
	ItemsPerSecond float64 `json:"items_per_second"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ETASeconds     float64 `json:"eta_seconds"`
}

// NewTracker constructs a Tracker for a backlog of total items. A progress
// line is logged every batch completions.
func NewTracker(total, batch int, clock pipeline.Clock, log *zap.Logger) *Tracker {
	if batch <= 0 {
		batch = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		total:     int64(total),
		batch:     int64(batch),
		startedAt: clock.Now(),
		clock:     clock,
		log:       log,
	}
}

// Record counts one terminal result and logs a progress line on every
// batch boundary.
func (t *Tracker) Record(success, duplicate bool) {
	if success {
		t.succeeded.Add(1)
	} else {
		t.failed.Add(1)
	}
	if duplicate {
		t.duplicates.Add(1)
	}
	n := t.processed.Add(1)
	if n%t.batch == 0 {
		s := t.Snapshot()
		t.log.Info("progress",
			zap.Int64("processed", s.Processed),
			zap.Int64("total", s.Total),
			zap.Int64("succeeded", s.Succeeded),
			zap.Int64("failed", s.Failed),
			zap.Int64("duplicates", s.Duplicates),
			zap.Float64("success_rate", s.SuccessRate),
			zap.Float64("items_per_second", s.ItemsPerSecond),
			zap.Float64("eta_seconds", s.ETASeconds))
	}
}

// Snapshot computes the current rates. ETA is zero until at least one item
// has been processed.
func (t *Tracker) Snapshot() Snapshot {
	processed := t.processed.Load()
	succeeded := t.succeeded.Load()
	elapsed := t.clock.Now().Sub(t.startedAt).Seconds()

	s := Snapshot{
		Total:          t.total,
		Processed:      processed,
		Succeeded:      succeeded,
		Failed:         t.failed.Load(),
		Duplicates:     t.duplicates.Load(),
		ElapsedSeconds: elapsed,
	}
	if processed > 0 {
		s.SuccessRate = float64(succeeded) / float64(processed)
	}
	if elapsed > 0 && processed > 0 {
		s.ItemsPerSecond = float64(processed) / elapsed
		if remaining := t.total - processed; remaining > 0 {
			s.ETASeconds = float64(remaining) / s.ItemsPerSecond
		}
	}
	return s
}
