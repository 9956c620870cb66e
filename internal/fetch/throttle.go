package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// HostThrottler bounds simultaneous in-flight requests per target host,
// independent of the global worker count. The lock is held only around the
// counter flip, never across a network call.
type HostThrottler struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

const defaultPerHostLimit = 2

// throttlePollInterval controls how often a blocked Acquire re-checks the
// counter.
const throttlePollInterval = 25 * time.Millisecond

// NewHostThrottler builds a throttler with the given per-host ceiling.
func NewHostThrottler(maxConcurrentPerHost int) *HostThrottler {
	if maxConcurrentPerHost <= 0 {
		maxConcurrentPerHost = defaultPerHostLimit
	}
	return &HostThrottler{
		limit:  maxConcurrentPerHost,
		counts: make(map[string]int),
	}
}

// TryAcquire takes a slot for host if one is free, returning whether it did.
func (t *HostThrottler) TryAcquire(host string) bool {
	key := strings.ToLower(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[key] >= t.limit {
		return false
	}
	t.counts[key]++
	return true
}

// Acquire blocks until a slot for host is free or the context ends. Every
// successful Acquire must be paired with Release on all exit paths.
func (t *HostThrottler) Acquire(ctx context.Context, host string) error {
	if t.TryAcquire(host) {
		return nil
	}
	ticker := time.NewTicker(throttlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire host slot: %w", ctx.Err())
		case <-ticker.C:
			if t.TryAcquire(host) {
				return nil
			}
		}
	}
}

// Release frees a previously acquired slot for host.
func (t *HostThrottler) Release(host string) {
	key := strings.ToLower(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[key] > 0 {
		t.counts[key]--
	}
	if t.counts[key] == 0 {
		delete(t.counts, key)
	}
}

// Inflight reports the current in-flight count for host.
func (t *HostThrottler) Inflight(host string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[strings.ToLower(host)]
}
