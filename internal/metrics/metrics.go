// Package metrics exposes Prometheus collectors for the archiver.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Title lookup outcomes.
const (
	TitleOutcomeOK    = "ok"
	TitleOutcomeEmpty = "empty"
	TitleOutcomeError = "error"
)

var (
	postsEnqueuedTotal         *prometheus.CounterVec
	claimsTotal                *prometheus.CounterVec
	recordsWrittenTotal        prometheus.Counter
	archiveBytesTotal          prometheus.Counter
	archiveRotationsTotal      prometheus.Counter
	titleLookupsTotal          *prometheus.CounterVec
	titleLookupDurationSeconds prometheus.Histogram
	commentExpansionsTotal     *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		postsEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_posts_enqueued_total",
				Help: "Post handles offered to the queue, labeled by listing view.",
			},
			[]string{"view"},
		)

		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_claims_total",
				Help: "Dedup claims, labeled by result (claimed or duplicate).",
			},
			[]string{"result"},
		)

		recordsWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_records_written_total",
				Help: "Records appended to archive files.",
			},
		)

		archiveBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_archive_bytes_total",
				Help: "Bytes appended to archive files.",
			},
		)

		archiveRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_archive_rotations_total",
				Help: "Archive file rotations.",
			},
		)

		titleLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_title_lookups_total",
				Help: "Linked page title lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		titleLookupDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_title_lookup_duration_seconds",
				Help:    "Histogram of linked page title lookup latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		commentExpansionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_comment_expansions_total",
				Help: "Comment tree expansions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_workers",
				Help: "Number of workers currently processing a post.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delay_seconds",
				Help:    "Time spent waiting on request pacing, labeled by scope.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"scope"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePostEnqueued counts a post handle offered by the producer.
func ObservePostEnqueued(view string) {
	Init()
	postsEnqueuedTotal.WithLabelValues(view).Inc()
}

// ObserveClaim counts a dedup decision.
func ObserveClaim(claimed bool) {
	Init()
	result := "duplicate"
	if claimed {
		result = "claimed"
	}
	claimsTotal.WithLabelValues(result).Inc()
}

// ObserveRecordWritten counts one archived record and its serialized size.
func ObserveRecordWritten(bytesWritten int) {
	Init()
	recordsWrittenTotal.Inc()
	if bytesWritten > 0 {
		archiveBytesTotal.Add(float64(bytesWritten))
	}
}

// ObserveRotation counts an archive file rotation.
func ObserveRotation() {
	Init()
	archiveRotationsTotal.Inc()
}

// ObserveTitleLookup records the outcome and latency of one title lookup.
func ObserveTitleLookup(outcome string, duration time.Duration) {
	Init()
	titleLookupsTotal.WithLabelValues(outcome).Inc()
	titleLookupDurationSeconds.Observe(duration.Seconds())
}

// ObserveCommentExpansion counts a comment tree expansion.
func ObserveCommentExpansion(ok bool) {
	Init()
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	commentExpansionsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records time spent blocked on a rate limiter.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(scope).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
