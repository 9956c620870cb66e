package fetch

import (
	"context"
	"net/url"
	"time"

	"github.com/surveypix/image-pipeline/internal/metrics"
	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// Baseline is the single-attempt strategy: default client, no custom
// headers, no retries. A non-200 response is terminal.
type Baseline struct {
	pool    *ConnectionPool
	timeout time.Duration
}

// NewBaseline constructs the baseline strategy.
func NewBaseline(pool *ConnectionPool, timeout time.Duration) *Baseline {
	metrics.Init()
	return &Baseline{pool: pool, timeout: timeout}
}

// Name implements pipeline.Strategy.
func (b *Baseline) Name() string {
	return "baseline"
}

// Fetch performs one bounded GET through the host's pooled client.
func (b *Baseline) Fetch(ctx context.Context, rawURL string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &pipeline.FetchError{
			Stage:    pipeline.StageHTTPRequest,
			Type:     "bad_request",
			Message:  truncate(err.Error()),
			Attempts: 1,
		}
	}

	outcome, fetchErr := doRequest(ctx, b.pool.ClientFor(u.Hostname()), rawURL, nil, b.timeout, 1)
	if fetchErr != nil {
		return nil, fetchErr
	}
	metrics.ObserveDownload(b.Name(), outcome.Duration)
	return outcome, nil
}
