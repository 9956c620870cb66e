package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/surveypix/image-pipeline/internal/fetch"
	"github.com/surveypix/image-pipeline/internal/pipeline"
	pubmemory "github.com/surveypix/image-pipeline/internal/publisher/memory"
	queuememory "github.com/surveypix/image-pipeline/internal/queue/memory"
	storagememory "github.com/surveypix/image-pipeline/internal/storage/memory"
	"github.com/surveypix/image-pipeline/internal/worker"
)

type failingStrategy struct{}

func (failingStrategy) Fetch(context.Context, string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
	return nil, &pipeline.FetchError{
		Stage:    pipeline.StageTCPConnection,
		Type:     "connection",
		Message:  "connection refused",
		Attempts: 1,
	}
}

func (failingStrategy) Name() string { return "stub" }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// TestDispatcherDrainsBacklog runs multiple workers over a shared queue in
// drain mode and verifies every item reaches a terminal state exactly once.
func TestDispatcherDrainsBacklog(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue()
	results := storagememory.NewResultStore()
	const itemCount = 30
	for i := 0; i < itemCount; i++ {
		queue.Add(pipeline.WorkItem{
			ID:       fmt.Sprintf("item-%d", i),
			SurveyID: "survey-1",
			URL:      fmt.Sprintf("http://localhost/%d.jpg", i),
		})
	}

	workers := make([]*worker.Worker, 4)
	for i := range workers {
		workers[i] = worker.New(
			queue,
			results,
			failingStrategy{},
			fetch.NewHostThrottler(2),
			nil,
			pubmemory.New(),
			nil,
			systemClock{},
			worker.Config{ClaimBackoff: 10 * time.Millisecond, DrainAndExit: true},
			zap.NewNop(),
		)
	}

	done := make(chan struct{})
	go func() {
		New(workers, zap.NewNop()).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("dispatcher did not drain the backlog")
	}

	require.Len(t, results.Results(), itemCount)
	pending, err := queue.PendingCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, pending)
}

// TestDispatcherStopsOnCancel verifies polling workers shut down when the
// run context finishes.
func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue()
	w := worker.New(
		queue,
		storagememory.NewResultStore(),
		failingStrategy{},
		fetch.NewHostThrottler(2),
		nil,
		nil,
		nil,
		systemClock{},
		worker.Config{ClaimBackoff: 10 * time.Millisecond},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New([]*worker.Worker{w}, zap.NewNop()).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}
