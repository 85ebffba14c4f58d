// Package metrics exposes Prometheus collectors for the ingest service.
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
	ingestFetchesTotal         *prometheus.CounterVec
	ingestFetchDurationSeconds *prometheus.HistogramVec
	ingestRenderFallbacksTotal prometheus.Counter
	ingestRobotsDeniedTotal    *prometheus.CounterVec
	ingestCrawlDelaySeconds    *prometheus.HistogramVec
	ingestRunsTotal            *prometheus.CounterVec
	ingestRunDurationSeconds   *prometheus.HistogramVec
	ingestJobsTotal            *prometheus.CounterVec
	ingestStaleMarkedTotal     prometheus.Counter
	ingestStaleDeletedTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetches_total",
				Help: "Total page fetches, labeled by site, fetch mode, and outcome.",
			},
			[]string{"site", "mode", "outcome"},
		)

		ingestFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by fetch mode.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"mode"},
		)

		ingestRenderFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_render_fallbacks_total",
				Help: "Total browser-render failures that fell back to a plain GET.",
			},
		)

		ingestRobotsDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_robots_denied_total",
				Help: "Total fetches denied by robots.txt, labeled by site.",
			},
			[]string{"site"},
		)

		ingestCrawlDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_crawl_delay_seconds",
				Help:    "Histogram of politeness waits between page fetches.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total source runs, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		ingestRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Histogram of per-source run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"source"},
		)

		ingestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total job records processed, labeled by source and upsert outcome.",
			},
			[]string{"source", "outcome"},
		)

		ingestStaleMarkedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_stale_marked_total",
				Help: "Total job records marked stale by the sweeper.",
			},
		)

		ingestStaleDeletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_stale_deleted_total",
				Help: "Total stale job records deleted by the sweeper.",
			},
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

// ObserveFetch records one page fetch.
func ObserveFetch(site, mode, outcome string, duration time.Duration) {
	ingestFetchesTotal.WithLabelValues(SanitizeSite(site), mode, outcome).Inc()
	ingestFetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRenderFallback counts a browser-render failure that fell back to HTTP.
func ObserveRenderFallback() {
	ingestRenderFallbacksTotal.Inc()
}

// ObserveRobotsDenied counts a robots.txt denial.
func ObserveRobotsDenied(site string) {
	ingestRobotsDeniedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveCrawlDelay records a politeness wait between page fetches.
func ObserveCrawlDelay(site string, duration time.Duration) {
	ingestCrawlDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveRun records the outcome and duration of one source run.
func ObserveRun(source, status string, duration time.Duration) {
	ingestRunsTotal.WithLabelValues(source, status).Inc()
	ingestRunDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveJobUpsert counts one processed job record.
func ObserveJobUpsert(source, outcome string) {
	ingestJobsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveSweep records the result of one staleness sweep.
func ObserveSweep(marked, deleted int64) {
	ingestStaleMarkedTotal.Add(float64(marked))
	ingestStaleDeletedTotal.Add(float64(deleted))
}
