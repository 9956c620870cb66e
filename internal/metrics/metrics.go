// Package metrics exposes Prometheus collectors for the image pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineItemsTotal       *prometheus.CounterVec
	pipelineFailuresTotal    *prometheus.CounterVec
	pipelineBytesTotal       prometheus.Counter
	pipelineDuplicatesTotal  prometheus.Counter
	downloadDurationSeconds  *prometheus.HistogramVec
	downloadRetriesTotal     *prometheus.CounterVec
	rateLimitResponsesTotal  *prometheus.CounterVec
	rateLimitWaitSeconds     prometheus.Histogram
	pipelineActiveWorkers    prometheus.Gauge
	pipelineInflightRequests *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_items_total",
				Help: "Total number of work items processed, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		pipelineFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_failures_total",
				Help: "Total failed items, labeled by funnel stage.",
			},
			[]string{"stage"},
		)

		pipelineBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_image_bytes_total",
				Help: "Total image payload bytes fetched successfully.",
			},
		)

		pipelineDuplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_duplicates_total",
				Help: "Total items linked to a canonical item by the duplicate detector.",
			},
		)

		downloadDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_download_duration_seconds",
				Help:    "Histogram of full download durations, labeled by strategy.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		)

		downloadRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_download_retries_total",
				Help: "Total retry attempts, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		rateLimitResponsesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_rate_limit_responses_total",
				Help: "Total 429/503 responses observed, labeled by host.",
			},
			[]string{"host"},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_rate_limit_wait_seconds",
				Help:    "Histogram of Retry-After waits honored by the advanced strategy.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		pipelineActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		pipelineInflightRequests = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_inflight_requests",
				Help: "In-flight HTTP requests, labeled by host.",
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost lowercases a raw URL's hostname, or "unknown" when invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveItem records one terminal result.
func ObserveItem(strategy, outcome string, bytesFetched int) {
	pipelineItemsTotal.WithLabelValues(strategy, outcome).Inc()
	if bytesFetched > 0 {
		pipelineBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveFailure increments the per-stage failure counter.
func ObserveFailure(stage string) {
	pipelineFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveDuplicate increments the duplicate counter.
func ObserveDuplicate() {
	pipelineDuplicatesTotal.Inc()
}

// ObserveDownload records one fetch duration.
func ObserveDownload(strategy string, duration time.Duration) {
	downloadDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter.
func ObserveRetry(strategy string) {
	downloadRetriesTotal.WithLabelValues(strategy).Inc()
}

// ObserveRateLimit records a 429/503 response and any honored wait.
func ObserveRateLimit(host string, wait time.Duration) {
	rateLimitResponsesTotal.WithLabelValues(SanitizeHost(host)).Inc()
	if wait > 0 {
		rateLimitWaitSeconds.Observe(wait.Seconds())
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	pipelineActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	pipelineActiveWorkers.Dec()
}

// IncInflight tracks a request starting against a host.
func IncInflight(host string) {
	pipelineInflightRequests.WithLabelValues(SanitizeHost(host)).Inc()
}

// DecInflight tracks a request finishing against a host.
func DecInflight(host string) {
	pipelineInflightRequests.WithLabelValues(SanitizeHost(host)).Dec()
}
