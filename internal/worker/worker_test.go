package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/surveypix/image-pipeline/internal/dedup"
	"github.com/surveypix/image-pipeline/internal/fetch"
	"github.com/surveypix/image-pipeline/internal/pipeline"
	"github.com/surveypix/image-pipeline/internal/progress"
	pubmemory "github.com/surveypix/image-pipeline/internal/publisher/memory"
	queuememory "github.com/surveypix/image-pipeline/internal/queue/memory"
	storagememory "github.com/surveypix/image-pipeline/internal/storage/memory"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type stubStrategy struct {
	fetch func(url string) (*pipeline.FetchOutcome, *pipeline.FetchError)
}

func (s stubStrategy) Fetch(_ context.Context, url string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
	return s.fetch(url)
}

func (s stubStrategy) Name() string { return "stub" }

func jpegBody(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(x*8) + seed*37
			img.Set(x, y, color.RGBA{R: v, G: uint8(y * 8), B: seed * 29, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func imageOutcome(body []byte) *pipeline.FetchOutcome {
	return &pipeline.FetchOutcome{
		StatusCode:        200,
		Headers:           http.Header{"Content-Type": {"image/jpeg"}},
		Body:              body,
		TotalAttempts:     1,
		SuccessfulAttempt: 1,
		UserAgent:         "Mozilla/5.0",
		Duration:          120 * time.Millisecond,
		TimeToFirstByte:   30 * time.Millisecond,
	}
}

type fixture struct {
	queue     *queuememory.Queue
	results   *storagememory.ResultStore
	index     *storagememory.ImageIndex
	blobs     *storagememory.BlobStore
	publisher *pubmemory.Publisher
	tracker   *progress.Tracker
}

func newWorker(t *testing.T, strategy pipeline.Strategy, total int) (*Worker, *fixture) {
	t.Helper()
	f := &fixture{
		queue:     queuememory.NewQueue(),
		results:   storagememory.NewResultStore(),
		index:     storagememory.NewImageIndex(),
		blobs:     storagememory.NewBlobStore(),
		publisher: pubmemory.New(),
	}
	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	f.tracker = progress.NewTracker(total, 100, clock, zap.NewNop())
	detector := dedup.NewDetector(f.index, f.blobs, zap.NewNop())
	w := New(
		f.queue,
		f.results,
		strategy,
		fetch.NewHostThrottler(2),
		detector,
		f.publisher,
		f.tracker,
		clock,
		Config{Topic: "completions", ClaimBackoff: 10 * time.Millisecond, DrainAndExit: true},
		zap.NewNop(),
	)
	return w, f
}

func TestWorkerProcessesValidImage(t *testing.T) {
	t.Parallel()

	body := jpegBody(t, 1)
	strategy := stubStrategy{fetch: func(string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
		return imageOutcome(body), nil
	}}
	w, f := newWorker(t, strategy, 1)
	f.queue.Add(pipeline.WorkItem{ID: "item-1", SurveyID: "survey-1", URL: "http://localhost/a.jpg"})

	w.Run(context.Background())

	result, ok := f.results.Result("item-1")
	require.True(t, ok)
	require.True(t, result.FinalSuccess)
	require.True(t, result.ImageFormatValid)
	require.Equal(t, "jpeg", result.ImageFormat)
	require.Equal(t, "stub", result.Strategy)
	require.True(t, result.DNSResolved)

	stored, _ := f.queue.Item("item-1")
	require.Equal(t, pipeline.ItemStateSucceeded, stored.State)
	completion, _ := f.queue.Completion("item-1")
	require.Equal(t, pipeline.CompletionUsable, completion)

	// Canonical asset bytes were stored.
	_, ok = f.blobs.Object("survey-1/item-1/full.jpg")
	require.True(t, ok)
	_, ok = f.blobs.Object("survey-1/item-1/thumb.jpg")
	require.True(t, ok)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "completions", msgs[0].Topic)
}

func TestWorkerRejectsNonHTTPScheme(t *testing.T) {
	t.Parallel()

	strategy := stubStrategy{fetch: func(string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
		t.Fatal("strategy must not be called for an invalid URL")
		return nil, nil
	}}
	w, f := newWorker(t, strategy, 1)
	f.queue.Add(pipeline.WorkItem{ID: "item-1", SurveyID: "survey-1", URL: "ftp://example.com/a.jpg"})

	w.Run(context.Background())

	result, ok := f.results.Result("item-1")
	require.True(t, ok)
	require.False(t, result.FinalSuccess)
	require.False(t, result.URLValid)
	require.Equal(t, pipeline.StageInvalidURL, result.FailureStage)

	stored, _ := f.queue.Item("item-1")
	require.Equal(t, pipeline.ItemStateFailed, stored.State)
	completion, _ := f.queue.Completion("item-1")
	require.Equal(t, pipeline.CompletionNotUsable, completion)
}

func TestWorkerRecordsFetchFailure(t *testing.T) {
	t.Parallel()

	strategy := stubStrategy{fetch: func(string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
		return nil, &pipeline.FetchError{
			Stage:    pipeline.StageHTTPTimeout,
			Type:     "timeout_all_attempts",
			Message:  "all 3 attempts failed",
			Attempts: 3,
			Duration: 30 * time.Second,
		}
	}}
	w, f := newWorker(t, strategy, 1)
	f.queue.Add(pipeline.WorkItem{ID: "item-1", SurveyID: "survey-1", URL: "http://localhost/slow.jpg"})

	w.Run(context.Background())

	result, ok := f.results.Result("item-1")
	require.True(t, ok)
	require.False(t, result.FinalSuccess)
	require.Equal(t, pipeline.StageHTTPTimeout, result.FailureStage)
	require.Equal(t, "timeout_all_attempts", result.ErrorType)
	require.Equal(t, 3, result.TotalAttempts)

	stored, _ := f.queue.Item("item-1")
	require.Equal(t, pipeline.ItemStateFailed, stored.State)
}

func TestWorkerLinksDuplicates(t *testing.T) {
	t.Parallel()

	body := jpegBody(t, 3)
	strategy := stubStrategy{fetch: func(string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
		return imageOutcome(body), nil
	}}
	w, f := newWorker(t, strategy, 2)
	f.queue.Add(
		pipeline.WorkItem{ID: "item-1", SurveyID: "survey-1", URL: "http://localhost/a.jpg"},
		pipeline.WorkItem{ID: "item-2", SurveyID: "survey-1", URL: "http://localhost/b.jpg"},
	)

	w.Run(context.Background())

	r1, _ := f.results.Result("item-1")
	r2, _ := f.results.Result("item-2")
	require.True(t, r1.FinalSuccess)
	require.True(t, r2.FinalSuccess)

	// Claim order is random; exactly one of the two links to the other.
	duplicates := 0
	for _, r := range []pipeline.Result{r1, r2} {
		if r.DuplicateOf != "" {
			duplicates++
		}
	}
	require.Equal(t, 1, duplicates)
	require.Equal(t, int64(1), f.tracker.Snapshot().Duplicates)

	// Both items succeed, but only the canonical one is marked usable.
	for _, r := range []pipeline.Result{r1, r2} {
		item, _ := f.queue.Item(r.ItemID)
		require.Equal(t, pipeline.ItemStateSucceeded, item.State)
		completion, ok := f.queue.Completion(r.ItemID)
		require.True(t, ok)
		if r.DuplicateOf != "" {
			require.Equal(t, pipeline.CompletionNotUsable, completion)
		} else {
			require.Equal(t, pipeline.CompletionUsable, completion)
		}
	}
}

func TestWorkerWritesOneResultPerItem(t *testing.T) {
	t.Parallel()

	body := jpegBody(t, 5)
	strategy := stubStrategy{fetch: func(url string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
		return imageOutcome(body), nil
	}}
	w, f := newWorker(t, strategy, 20)
	for i := 0; i < 20; i++ {
		f.queue.Add(pipeline.WorkItem{
			ID:       fmt.Sprintf("item-%d", i),
			SurveyID: "survey-1",
			URL:      fmt.Sprintf("http://localhost/%d.jpg", i),
		})
	}

	w.Run(context.Background())

	require.Len(t, f.results.Results(), 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("item-%d", i)
		item, ok := f.queue.Item(id)
		require.True(t, ok)
		require.Equal(t, pipeline.ItemStateSucceeded, item.State)
	}
	require.Equal(t, int64(20), f.tracker.Snapshot().Processed)
}

func TestWorkerStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	strategy := stubStrategy{fetch: func(string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
		return imageOutcome(jpegBody(t, 7)), nil
	}}
	w, f := newWorker(t, strategy, 1)
	w.cfg.DrainAndExit = false
	f.queue.Add(pipeline.WorkItem{ID: "item-1", SurveyID: "survey-1", URL: "http://localhost/a.jpg"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Let the single item drain, then cancel during the empty-queue sleep.
	require.Eventually(t, func() bool {
		_, ok := f.results.Result("item-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
