// Package metrics exposes Prometheus collectors for the research pipeline.
package metrics

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchPagesTotal            *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	fetchInsecureFallbackTotal prometheus.Counter
	providerCallsTotal         *prometheus.CounterVec
	providerResultsTotal       *prometheus.CounterVec
	extractionAttemptsTotal    *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	documentsTotal             *prometheus.CounterVec
	snapshotsTotal             *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	credentialIssuesTotal      *prometheus.CounterVec
	retryAttemptsTotal         *prometheus.CounterVec
	once                       sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_fetch_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		fetchInsecureFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "research_fetch_insecure_fallback_total",
				Help: "Total fetches retried without certificate verification.",
			},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_provider_calls_total",
				Help: "Search provider calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		providerResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_provider_results_total",
				Help: "Raw results returned per provider.",
			},
			[]string{"provider"},
		)

		extractionAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_extraction_attempts_total",
				Help: "Extraction strategy attempts, labeled by extractor and outcome.",
			},
			[]string{"extractor", "outcome"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_extraction_duration_seconds",
				Help:    "Time spent per extraction strategy attempt.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"extractor"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_documents_total",
				Help: "Extraction outcomes per URL, labeled by pass and outcome.",
			},
			[]string{"pass", "outcome"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_snapshots_total",
				Help: "Snapshot capture attempts, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "research_active_workers",
				Help: "Number of extraction workers currently processing a URL.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		credentialIssuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_credential_issues_total",
				Help: "Credentials handed out, labeled by provider.",
			},
			[]string{"provider"},
		)

		retryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_retry_attempts_total",
				Help: "Retries scheduled after a transient failure, labeled by operation.",
			},
			[]string{"op"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveFetch records a page fetch.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveInsecureFallback counts a fetch retried without TLS verification.
func ObserveInsecureFallback() {
	Init()
	fetchInsecureFallbackTotal.Inc()
}

// ObserveProviderCall records one provider call and how many results it returned.
func ObserveProviderCall(provider, outcome string, results int) {
	Init()
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
	if results > 0 {
		providerResultsTotal.WithLabelValues(provider).Add(float64(results))
	}
}

// ObserveExtraction records a single strategy attempt.
func ObserveExtraction(extractor, outcome string, duration time.Duration) {
	Init()
	extractionAttemptsTotal.WithLabelValues(extractor, outcome).Inc()
	extractionDurationSeconds.WithLabelValues(extractor).Observe(duration.Seconds())
}

// ObserveDocument records the terminal outcome for one URL.
func ObserveDocument(pass, outcome string) {
	Init()
	documentsTotal.WithLabelValues(pass, outcome).Inc()
}

// ObserveSnapshot records a snapshot attempt.
func ObserveSnapshot(status string) {
	Init()
	snapshotsTotal.WithLabelValues(status).Inc()
}

// ObserveCredentialIssue counts a credential handed to provider.
func ObserveCredentialIssue(provider string) {
	Init()
	credentialIssuesTotal.WithLabelValues(provider).Inc()
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveRetry counts a retry scheduled for op.
func ObserveRetry(op string) {
	Init()
	retryAttemptsTotal.WithLabelValues(op).Inc()
}
