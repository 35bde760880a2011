// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache read outcomes.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheStale     = "stale"
	CacheThrottled = "throttled"
	CacheInFlight  = "in_flight"
	CacheEmpty     = "empty"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cache metrics
	CacheReads     *prometheus.CounterVec
	CacheEntries   *prometheus.GaugeVec
	CacheEvictions *prometheus.CounterVec

	// Upstream metrics
	UpstreamFetchDuration *prometheus.HistogramVec
	UpstreamFetchErrors   *prometheus.CounterVec
	RPCCallLatency        *prometheus.HistogramVec

	// Leaderboard metrics
	ServedBySource *prometheus.CounterVec

	// Capture metrics
	CaptureRunsTotal   *prometheus.CounterVec
	CaptureDuration    prometheus.Histogram
	CaptureAgents      prometheus.Gauge
	EnrichmentFailures prometheus.Counter

	// Feed metrics
	FeedClients    prometheus.Gauge
	FeedBroadcasts prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
	LastSuccessfulCapture prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agentboard"
	}

	return &Metrics{
		// Cache metrics
		CacheReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Total number of cache reads by cache and outcome",
		}, []string{"cache", "outcome"}),
		CacheEntries: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached entries",
		}, []string{"cache"}),
		CacheEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted",
		}, []string{"cache"}),

		// Upstream metrics
		UpstreamFetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		UpstreamFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed upstream fetches by reason",
		}, []string{"source", "reason"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Leaderboard metrics
		ServedBySource: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "served_total",
			Help:      "Total number of leaderboard responses by data source",
		}, []string{"source"}),

		// Capture metrics
		CaptureRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "runs_total",
			Help:      "Total number of capture runs by outcome",
		}, []string{"outcome"}),
		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "duration_seconds",
			Help:      "Capture run duration in seconds, enrichment included",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		CaptureAgents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "agents",
			Help:      "Number of agents in the latest capture",
		}),
		EnrichmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "enrichment_failures_total",
			Help:      "Total number of skipped agent enrichments",
		}),

		// Feed metrics
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Current number of connected websocket clients",
		}),
		FeedBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "broadcasts_total",
			Help:      "Total number of leaderboard broadcasts",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful live fetch",
		}),
		LastSuccessfulCapture: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_capture_timestamp",
			Help:      "Unix timestamp of last successful capture",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCacheRead records one cache read outcome.
func RecordCacheRead(cache, outcome string) {
	DefaultMetrics.CacheReads.WithLabelValues(cache, outcome).Inc()
}

// UpdateCacheEntries sets the entry gauge of a cache.
func UpdateCacheEntries(cache string, n int) {
	DefaultMetrics.CacheEntries.WithLabelValues(cache).Set(float64(n))
}

// RecordCacheEvictions adds n evictions.
func RecordCacheEvictions(cache string, n int) {
	DefaultMetrics.CacheEvictions.WithLabelValues(cache).Add(float64(n))
}

// RecordUpstreamFetch records an upstream fetch. reason is ignored on success.
func RecordUpstreamFetch(source string, d time.Duration, reason string, err error) {
	DefaultMetrics.UpstreamFetchDuration.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.UpstreamFetchErrors.WithLabelValues(source, reason).Inc()
		return
	}
	if source == "leaderboard" {
		DefaultMetrics.LastSuccessfulRefresh.SetToCurrentTime()
	}
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordServed records which source answered a leaderboard read.
func RecordServed(source string) {
	DefaultMetrics.ServedBySource.WithLabelValues(source).Inc()
}

// RecordCaptureRun records a capture run.
func RecordCaptureRun(outcome string, d time.Duration, agents int) {
	DefaultMetrics.CaptureRunsTotal.WithLabelValues(outcome).Inc()
	if agents > 0 {
		DefaultMetrics.CaptureDuration.Observe(d.Seconds())
		DefaultMetrics.CaptureAgents.Set(float64(agents))
		DefaultMetrics.LastSuccessfulCapture.SetToCurrentTime()
	}
}

// RecordEnrichmentFailure increments the skipped enrichment counter.
func RecordEnrichmentFailure() {
	DefaultMetrics.EnrichmentFailures.Inc()
}

// UpdateFeedClients sets the connected client gauge.
func UpdateFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}

// RecordFeedBroadcast increments the broadcast counter.
func RecordFeedBroadcast() {
	DefaultMetrics.FeedBroadcasts.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
