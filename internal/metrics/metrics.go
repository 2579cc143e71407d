// Package metrics exposes Prometheus collectors for the discovery service.
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
	discoveryFetchesTotal        *prometheus.CounterVec
	discoveryRunsTotal           *prometheus.CounterVec
	discoveryURLsDiscovered      *prometheus.HistogramVec
	discoveryDocumentProbesTotal *prometheus.CounterVec
	discoveryActiveWorkers       prometheus.Gauge
	discoveryJobsTotal           *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	fetchRateLimitDelaySeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		discoveryFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_fetches_total",
				Help: "Total number of discovery fetches, labeled by component and outcome.",
			},
			[]string{"component", "outcome"},
		)

		discoveryRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_runs_total",
				Help: "Total number of completed discoveries, labeled by source.",
			},
			[]string{"source"},
		)

		discoveryURLsDiscovered = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_urls_discovered",
				Help:    "Number of URLs returned per discovery, labeled by kind.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
			[]string{"kind"},
		)

		discoveryDocumentProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_document_probes_total",
				Help: "Total number of document HEAD probes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		discoveryActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "discovery_active_workers",
				Help: "Number of workers currently processing a discovery run.",
			},
		)

		discoveryJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_jobs_total",
				Help: "Total number of discovery runs processed, labeled by final status.",
			},
			[]string{"status"},
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

		fetchRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveFetch counts one fetch made by a discovery component.
func ObserveFetch(component, outcome string) {
	if discoveryFetchesTotal == nil {
		return
	}
	discoveryFetchesTotal.WithLabelValues(component, outcome).Inc()
}

// ObserveDiscovery records the size of a finished discovery.
func ObserveDiscovery(source string, pages, files int) {
	if discoveryRunsTotal == nil {
		return
	}
	discoveryRunsTotal.WithLabelValues(source).Inc()
	discoveryURLsDiscovered.WithLabelValues("page").Observe(float64(pages))
	discoveryURLsDiscovered.WithLabelValues("file").Observe(float64(files))
}

// ObserveProbe counts one document probe outcome.
func ObserveProbe(outcome string) {
	if discoveryDocumentProbesTotal == nil {
		return
	}
	discoveryDocumentProbesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the run counter for the given final status.
func ObserveJob(status string) {
	if discoveryJobsTotal == nil {
		return
	}
	discoveryJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if discoveryActiveWorkers != nil {
		discoveryActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if discoveryActiveWorkers != nil {
		discoveryActiveWorkers.Dec()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if fetchRateLimitDelaySeconds == nil {
		return
	}
	fetchRateLimitDelaySeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// Recorder adapts the package level collectors to discovery.Recorder.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// ObserveFetch implements discovery.Recorder.
func (Recorder) ObserveFetch(component, outcome string) { ObserveFetch(component, outcome) }

// ObserveDiscovery implements discovery.Recorder.
func (Recorder) ObserveDiscovery(source string, pages, files int) {
	ObserveDiscovery(source, pages, files)
}

// ObserveProbe implements discovery.Recorder.
func (Recorder) ObserveProbe(outcome string) { ObserveProbe(outcome) }
