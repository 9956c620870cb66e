package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// RateLimiter applies a per-host token bucket on top of the concurrency
// throttle, spacing requests to the same host even when a slot is free.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// host. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until the host's bucket has a token or the context finishes.
func (l *RateLimiter) Wait(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// politeThrottler pairs the concurrency throttle with the token bucket so
// callers see a single Acquire/Release surface.
type politeThrottler struct {
	inner   pipeline.Throttler
	limiter *RateLimiter
}

// Polite wraps a throttler with per-host request spacing.
func Polite(inner pipeline.Throttler, limiter *RateLimiter) pipeline.Throttler {
	return &politeThrottler{inner: inner, limiter: limiter}
}

func (p *politeThrottler) Acquire(ctx context.Context, host string) error {
	if err := p.inner.Acquire(ctx, host); err != nil {
		return err
	}
	if err := p.limiter.Wait(ctx, host); err != nil {
		p.inner.Release(host)
		return err
	}
	return nil
}

func (p *politeThrottler) Release(host string) {
	p.inner.Release(host)
}
