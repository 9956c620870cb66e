// Package dispatcher manages worker fan-out over the backlog.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/surveypix/image-pipeline/internal/worker"
)

// Dispatcher runs a fixed pool of workers against the shared queue.
type Dispatcher struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Run starts all workers and blocks until every worker returns, either
// because the backlog drained or the context finished.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting workers", zap.Int("count", len(d.workers)))
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func(id int, wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
			d.logger.Debug("worker finished", zap.Int("worker", id))
		}(i, w)
	}
	wg.Wait()
	d.logger.Info("all workers finished")
}
