// Package metrics exposes Prometheus collectors for the scraper service.
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

var (
	sourcesScrapedTotal        *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	patternsExtractedTotal     *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	batchesPersistedTotal      prometheus.Counter
	batchPatterns              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourcesScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archscraper_sources_scraped_total",
				Help: "Total number of per-source scrapes, labeled by source and outcome status.",
			},
			[]string{"source", "status"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archscraper_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by source and result class.",
			},
			[]string{"source", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archscraper_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by source type.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source_type"},
		)

		patternsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archscraper_patterns_extracted_total",
				Help: "Total pattern records extracted, labeled by source.",
			},
			[]string{"source"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archscraper_jobs_total",
				Help: "Total scrape jobs reaching a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		batchesPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archscraper_batches_persisted_total",
				Help: "Total batches written to the batch store.",
			},
		)

		batchPatterns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archscraper_last_batch_patterns",
				Help: "Pattern count of the most recently persisted batch.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSourceScrape records the terminal status of one source scrape.
func ObserveSourceScrape(source, status string) {
	Init()
	sourcesScrapedTotal.WithLabelValues(source, status).Inc()
}

// ObserveFetchAttempt records one fetch attempt and its result class
// ("ok", "transient", "permanent", "extraction").
func ObserveFetchAttempt(source, result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(source, result).Inc()
}

// ObserveFetchDuration records the latency of a completed fetch.
func ObserveFetchDuration(sourceType string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(sourceType).Observe(duration.Seconds())
}

// ObservePatterns adds extracted record counts for a source.
func ObservePatterns(source string, count int) {
	Init()
	if count > 0 {
		patternsExtractedTotal.WithLabelValues(source).Add(float64(count))
	}
}

// ObserveJob increments the terminal job counter for the given state.
func ObserveJob(state string) {
	Init()
	jobsTotal.WithLabelValues(state).Inc()
}

// ObserveBatchPersisted records a successful batch write.
func ObserveBatchPersisted(totalPatterns int) {
	Init()
	batchesPersistedTotal.Inc()
	batchPatterns.Set(float64(totalPatterns))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
