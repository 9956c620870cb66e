package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://CDN.Example.com/img/1.jpg", "cdn.example.com"},
		{"example.org", "example.org"},
		{"http://example.org:8080/x", "example.org"},
		{"", "unknown"},
		{"http://", "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, SanitizeHost(tt.in), "input %q", tt.in)
	}
}

func TestObserversDoNotPanic(t *testing.T) {
	Init()
	Init() // idempotent

	ObserveItem("advanced", "success", 1024)
	ObserveItem("baseline", "failure", 0)
	ObserveFailure("http_status")
	ObserveDuplicate()
	ObserveDownload("advanced", 1500*time.Millisecond)
	ObserveRetry("advanced")
	ObserveRateLimit("https://example.com/a.png", 2*time.Second)
	IncActiveWorkers()
	DecActiveWorkers()
	IncInflight("example.com")
	DecInflight("example.com")

	require.NotNil(t, Handler())
}
