package fetch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSizing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		workers int
		conns   int
		want    PoolSizing
	}{
		{
			// 10 workers floor the pool at 10; 1000/10 = 100 conns each;
			// 100/6 = 16 capped to 8 per host, 100/8 = 12 hosts.
			name:    "defaults",
			workers: 10,
			conns:   1000,
			want:    PoolSizing{Pools: 10, HostsPerPool: 12, ConnsPerHost: 8},
		},
		{
			// 600 workers would want 300 pools, clamped to 200.
			name:    "pool cap",
			workers: 600,
			conns:   2000,
			want:    PoolSizing{Pools: 200, HostsPerPool: 2, ConnsPerHost: 4},
		},
		{
			// Budget below minimum viable: shrink the pool count instead.
			name:    "tiny budget",
			workers: 100,
			conns:   20,
			want:    PoolSizing{Pools: 4, HostsPerPool: 2, ConnsPerHost: 2},
		},
		{
			name:    "single pool floor",
			workers: 10,
			conns:   3,
			want:    PoolSizing{Pools: 1, HostsPerPool: 2, ConnsPerHost: 2},
		},
		{
			// 64 conns per pool: 64/6=10 capped to 8; 64/8 = 8 hosts.
			name:    "mid budget",
			workers: 40,
			conns:   1280,
			want:    PoolSizing{Pools: 20, HostsPerPool: 8, ConnsPerHost: 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ComputeSizing(PoolConfig{
				WorkerCount:         tt.workers,
				MaxTotalConnections: tt.conns,
			})
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClientForIsDeterministic(t *testing.T) {
	t.Parallel()

	pool := NewConnectionPool(PoolConfig{WorkerCount: 20, MaxTotalConnections: 100})
	a := pool.ClientFor("cdn.example.com")
	for i := 0; i < 10; i++ {
		require.Same(t, a, pool.ClientFor("cdn.example.com"))
	}
	// Case must not change the shard.
	require.Same(t, a, pool.ClientFor("CDN.Example.COM"))
}

func TestClientForSpreadsHosts(t *testing.T) {
	t.Parallel()

	pool := NewConnectionPool(PoolConfig{WorkerCount: 100, MaxTotalConnections: 1000})
	seen := make(map[any]struct{})
	hosts := []string{
		"a.example.com", "b.example.com", "c.example.com", "d.example.com",
		"e.example.com", "f.example.com", "g.example.com", "h.example.com",
	}
	for _, h := range hosts {
		seen[pool.ClientFor(h)] = struct{}{}
	}
	// Not all eight hosts may share one client.
	require.Greater(t, len(seen), 1)
}
