package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottlerCeiling(t *testing.T) {
	t.Parallel()

	th := NewHostThrottler(2)
	require.True(t, th.TryAcquire("img.example.com"))
	require.True(t, th.TryAcquire("img.example.com"))
	require.False(t, th.TryAcquire("img.example.com"))

	// Other hosts are unaffected.
	require.True(t, th.TryAcquire("other.example.com"))

	th.Release("img.example.com")
	require.True(t, th.TryAcquire("img.example.com"))
}

func TestThrottlerCaseInsensitiveHostKey(t *testing.T) {
	t.Parallel()

	th := NewHostThrottler(1)
	require.True(t, th.TryAcquire("CDN.Example.com"))
	require.False(t, th.TryAcquire("cdn.example.com"))
	th.Release("cdn.EXAMPLE.com")
	require.Equal(t, 0, th.Inflight("cdn.example.com"))
}

func TestThrottlerPeakConcurrencyNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	const (
		limit   = 2
		workers = 20
		items   = 50
	)
	th := NewHostThrottler(limit)

	var (
		inflight atomic.Int64
		peak     atomic.Int64
		wg       sync.WaitGroup
	)
	work := make(chan struct{}, items)
	for i := 0; i < items; i++ {
		work <- struct{}{}
	}
	close(work)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				require.NoError(t, th.Acquire(context.Background(), "slow.example.com"))
				cur := inflight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inflight.Add(-1)
				th.Release("slow.example.com")
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(limit))
	require.Equal(t, 0, th.Inflight("slow.example.com"))
}

func TestThrottlerAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	th := NewHostThrottler(1)
	require.True(t, th.TryAcquire("busy.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := th.Acquire(ctx, "busy.example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
