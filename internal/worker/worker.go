// Package worker implements the per-item execution loop: claim, fetch,
// validate, dedup, persist.
package worker

import (
	"context"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/surveypix/image-pipeline/internal/funnel"
	"github.com/surveypix/image-pipeline/internal/metrics"
	"github.com/surveypix/image-pipeline/internal/pipeline"
	"github.com/surveypix/image-pipeline/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// Topic names the completion event topic; empty disables publishing.
	Topic string

	// ClaimBackoff is how long a worker sleeps when the backlog is empty
	// before polling again.
	ClaimBackoff time.Duration

	// DrainAndExit makes Run return on an empty backlog instead of
	// polling. Used for batch runs over a fixed input file.
	DrainAndExit bool
}

// Worker consumes claimed items and drives each through the full
// validation funnel. One terminal result row is written per claimed item,
// no matter where processing fails.
type Worker struct {
	queue     pipeline.WorkQueue
	results   pipeline.ResultStore
	strategy  pipeline.Strategy
	throttler pipeline.Throttler
	detector  pipeline.DuplicateDetector
	publisher pipeline.Publisher
	tracker   *progress.Tracker
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger

	resolver *net.Resolver
}

// New constructs a Worker.
func New(
	queue pipeline.WorkQueue,
	results pipeline.ResultStore,
	strategy pipeline.Strategy,
	throttler pipeline.Throttler,
	detector pipeline.DuplicateDetector,
	publisher pipeline.Publisher,
	tracker *progress.Tracker,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ClaimBackoff <= 0 {
		cfg.ClaimBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		queue:     queue,
		results:   results,
		strategy:  strategy,
		throttler: throttler,
		detector:  detector,
		publisher: publisher,
		tracker:   tracker,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		resolver:  net.DefaultResolver,
	}
}

// Run blocks, claiming and processing items until the context finishes or,
// in drain mode, the backlog empties.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		item, err := w.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", zap.Error(err))
			if !w.sleep(ctx, w.cfg.ClaimBackoff) {
				return
			}
			continue
		}
		if item == nil {
			if w.cfg.DrainAndExit {
				return
			}
			if !w.sleep(ctx, w.cfg.ClaimBackoff) {
				return
			}
			continue
		}
		w.logger.Debug("claimed item",
			zap.String("item_id", item.ID),
			zap.String("survey_id", item.SurveyID),
			zap.String("url", item.URL))
		w.processItem(ctx, *item)
	}
}

func (w *Worker) processItem(ctx context.Context, item pipeline.WorkItem) {
	attempt := pipeline.Attempt{
		Item:      item,
		Strategy:  w.strategy.Name(),
		StartedAt: w.clock.Now(),
	}

	host, ok := w.validateURL(&attempt)
	if ok && w.resolveHost(ctx, &attempt, host) {
		w.fetch(ctx, &attempt, host)
	}

	result, img := funnel.Evaluate(attempt)

	if result.FinalSuccess && img != nil && w.detector != nil {
		asset, duplicateOf, err := w.detector.Process(ctx, item, img)
		if err != nil {
			// The fetch itself succeeded; the asset is lost but the
			// result row still records the validated download.
			w.logger.Error("asset processing failed",
				zap.String("item_id", item.ID), zap.Error(err))
		} else {
			result.DuplicateOf = duplicateOf
			w.logger.Debug("asset processed",
				zap.String("item_id", item.ID),
				zap.String("hash", asset.PerceptualHash),
				zap.String("full_uri", asset.FullURI),
				zap.String("duplicate_of", duplicateOf))
		}
	}

	w.persist(ctx, item, result)
	w.observe(result)
}

// validateURL fills the pre-network gates on the attempt and returns the
// target hostname.
func (w *Worker) validateURL(attempt *pipeline.Attempt) (string, bool) {
	u, err := url.Parse(attempt.Item.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", false
	}
	attempt.URLValid = true
	attempt.Scheme = u.Scheme
	attempt.Host = u.Hostname()
	return u.Hostname(), true
}

// resolveHost performs the timed DNS gate before any connection attempt.
func (w *Worker) resolveHost(ctx context.Context, attempt *pipeline.Attempt, host string) bool {
	start := time.Now()
	addrs, err := w.resolver.LookupHost(ctx, host)
	attempt.DNSTime = time.Since(start)
	if err != nil || len(addrs) == 0 {
		if err != nil {
			attempt.DNSErr = err.Error()
		} else {
			attempt.DNSErr = "no addresses returned"
		}
		return false
	}
	attempt.DNSResolved = true
	return true
}

func (w *Worker) fetch(ctx context.Context, attempt *pipeline.Attempt, host string) {
	if err := w.throttler.Acquire(ctx, host); err != nil {
		attempt.FetchErr = &pipeline.FetchError{
			Stage:    pipeline.StageTCPConnection,
			Type:     "throttle",
			Message:  err.Error(),
			Attempts: 0,
		}
		return
	}
	metrics.IncInflight(host)
	defer func() {
		metrics.DecInflight(host)
		w.throttler.Release(host)
	}()

	attempt.Outcome, attempt.FetchErr = w.strategy.Fetch(ctx, attempt.Item.URL)
}

// persist writes the result row, the terminal queue state and the optional
// completion event. Each step logs and continues on failure so a claimed
// item always reaches a terminal state when the backends allow it.
func (w *Worker) persist(ctx context.Context, item pipeline.WorkItem, result pipeline.Result) {
	if err := w.results.StoreResult(ctx, result); err != nil {
		w.logger.Error("store result failed",
			zap.String("item_id", item.ID), zap.Error(err))
	}

	state := pipeline.ItemStateFailed
	completion := pipeline.CompletionNotUsable
	if result.FinalSuccess {
		state = pipeline.ItemStateSucceeded
		// A duplicate downloads successfully but only the canonical
		// item's asset is usable downstream.
		if result.DuplicateOf == "" {
			completion = pipeline.CompletionUsable
		}
	}
	if err := w.queue.Complete(ctx, item.ID, state, completion); err != nil {
		w.logger.Error("complete item failed",
			zap.String("item_id", item.ID), zap.Error(err))
	}

	w.publishCompletion(ctx, item, result)
}

func (w *Worker) publishCompletion(ctx context.Context, item pipeline.WorkItem, result pipeline.Result) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"item_id":       item.ID,
		"survey_id":     item.SurveyID,
		"url":           item.URL,
		"final_success": result.FinalSuccess,
		"duplicate_of":  result.DuplicateOf,
		"error_type":    result.ErrorType,
		"timestamp":     w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("publish completion failed",
			zap.String("item_id", item.ID), zap.Error(err))
	}
}

func (w *Worker) observe(result pipeline.Result) {
	outcome := "failure"
	if result.FinalSuccess {
		outcome = "success"
	}
	metrics.ObserveItem(result.Strategy, outcome, int(result.ContentLengthActual))
	if !result.FinalSuccess {
		metrics.ObserveFailure(string(result.FailureStage))
	}
	if w.tracker != nil {
		w.tracker.Record(result.FinalSuccess, result.DuplicateOf != "")
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
