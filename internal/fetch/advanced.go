package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/surveypix/image-pipeline/internal/metrics"
	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// retryAfterCap bounds how long a Retry-After header is honored.
const retryAfterCap = 60 * time.Second

// Advanced is the browser-like strategy: randomized realistic headers per
// attempt, exponential backoff between retries, per-attempt timeout
// escalation, and Retry-After handling for 429/503 responses.
type Advanced struct {
	pool        *ConnectionPool
	maxRetries  int
	baseTimeout time.Duration

	// backoffUnit scales the exponential backoff; production uses one
	// second, tests shrink it to keep suites fast.
	backoffUnit time.Duration
}

// NewAdvanced constructs the advanced strategy.
func NewAdvanced(pool *ConnectionPool, maxRetries int, baseTimeout time.Duration) *Advanced {
	metrics.Init()
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Advanced{
		pool:        pool,
		maxRetries:  maxRetries,
		baseTimeout: baseTimeout,
		backoffUnit: time.Second,
	}
}

// Name implements pipeline.Strategy.
func (a *Advanced) Name() string {
	return "advanced"
}

// Fetch runs the retry state machine: up to maxRetries+1 attempts, backing
// off 2^(attempt-1) units between them and escalating the per-attempt
// timeout by half the base timeout each retry. Rate-limited responses with
// a Retry-After header replace the next attempt's backoff with the server's
// requested wait, capped at sixty seconds.
func (a *Advanced) Fetch(ctx context.Context, rawURL string) (*pipeline.FetchOutcome, *pipeline.FetchError) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &pipeline.FetchError{
			Stage:    pipeline.StageHTTPRequest,
			Type:     "bad_request",
			Message:  truncate(err.Error()),
			Attempts: 1,
		}
	}
	host := u.Hostname()
	client := a.pool.ClientFor(host)

	var last *pipeline.FetchError
	skipBackoff := false
	exhausted := true
	start := time.Now()

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			if !skipBackoff {
				backoff := time.Duration(1<<(attempt-1)) * a.backoffUnit
				if err := pause(ctx, backoff); err != nil {
					last.Duration = time.Since(start)
					return nil, last
				}
			}
			skipBackoff = false
			metrics.ObserveRetry(a.Name())
		}

		// Per-attempt timeout escalation: base * (1 + 0.5*attempt).
		timeout := a.baseTimeout + time.Duration(attempt)*a.baseTimeout/2
		headers := browserHeaders(rawURL)

		outcome, fetchErr := doRequest(ctx, client, rawURL, headers, timeout, attempt+1)
		if fetchErr != nil {
			last = fetchErr
			if ctx.Err() != nil {
				exhausted = false
				break
			}
			if !fetchErr.Stage.Retryable() {
				last.Duration = time.Since(start)
				return nil, last
			}
			continue
		}

		if outcome.StatusCode == 429 || outcome.StatusCode == 503 {
			wait := parseRetryAfter(outcome.Headers.Get("Retry-After"))
			metrics.ObserveRateLimit(host, wait)
			if wait > 0 && attempt < a.maxRetries {
				if err := pause(ctx, wait); err == nil {
					skipBackoff = true
				}
			}
			last = &pipeline.FetchError{
				Stage:    pipeline.StageHTTPStatus,
				Type:     fmt.Sprintf("http_%d", outcome.StatusCode),
				Message:  fmt.Sprintf("HTTP %d response", outcome.StatusCode),
				Attempts: attempt + 1,
			}
			continue
		}

		// Any other status is terminal; the funnel classifies non-200s.
		metrics.ObserveDownload(a.Name(), outcome.Duration)
		return outcome, nil
	}

	last.Duration = time.Since(start)
	if exhausted {
		last.Attempts = a.maxRetries + 1
		last.Type += "_all_attempts"
		last.Message = fmt.Sprintf("all %d attempts failed: %s", a.maxRetries+1, last.Message)
	}
	return nil, last
}

// parseRetryAfter reads a delay-seconds Retry-After value, capped. HTTP
// date forms are ignored.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	wait := time.Duration(secs) * time.Second
	if wait > retryAfterCap {
		wait = retryAfterCap
	}
	return wait
}

// pause sleeps for the given delay unless the context ends first.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
