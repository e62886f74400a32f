// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	crawlsTotal                *prometheus.CounterVec
	discoveryDecisionsTotal    *prometheus.CounterVec
	providerCallsTotal         *prometheus.CounterVec
	aiReviewsTotal             *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirworker_jobs_total",
				Help: "Total number of queue jobs processed, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dirworker_active_workers",
				Help: "Number of workers currently processing a job.",
			},
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

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirworker_crawls_total",
				Help: "Total verification crawls, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		discoveryDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirworker_discovery_decisions_total",
				Help: "Total discovery ledger decisions, labeled by decision.",
			},
			[]string{"decision"},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirworker_provider_calls_total",
				Help: "Total search provider invocations, labeled by provider and status.",
			},
			[]string{"provider", "status"},
		)

		aiReviewsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirworker_ai_reviews_total",
				Help: "Total AI policy reviews, labeled by verdict and routing outcome.",
			},
			[]string{"verdict", "outcome"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given type and status.
func ObserveJob(jobType, status string) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCrawl records one verification crawl outcome.
func ObserveCrawl(site, status string) {
	crawlsTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveDiscoveryDecision records one ledgered discovery decision.
func ObserveDiscoveryDecision(decision string) {
	discoveryDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveProviderCall records one search provider invocation.
func ObserveProviderCall(provider, status string) {
	providerCallsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveAIReview records one AI policy review outcome.
func ObserveAIReview(verdict, outcome string) {
	aiReviewsTotal.WithLabelValues(verdict, outcome).Inc()
}
