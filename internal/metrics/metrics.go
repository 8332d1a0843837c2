// Package metrics exposes Prometheus collectors for the chapter crawler.
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
	chapterFetchTotal          *prometheus.CounterVec
	chapterFetchAttempts       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	sessionProbesTotal         *prometheus.CounterVec
	checkpointFlushesTotal     *prometheus.CounterVec
	worksTotal                 *prometheus.CounterVec
	activeChapterWorkers       prometheus.Gauge
	activeWorks                prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		chapterFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_chapter_fetch_total",
				Help: "Total chapter fetches, labeled by extraction strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		chapterFetchAttempts = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_chapter_fetch_attempts",
				Help:    "Attempts spent per chapter fetch.",
				Buckets: []float64{1, 2, 3, 4, 6, 8},
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

		sessionProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_session_probes_total",
				Help: "Session token candidates probed, labeled by outcome.",
			},
			[]string{"result"},
		)

		checkpointFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_checkpoint_flushes_total",
				Help: "Checkpoint writes, labeled by result.",
			},
			[]string{"result"},
		)

		worksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_works_total",
				Help: "Total number of work downloads processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeChapterWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_chapter_workers",
				Help: "Number of chapter workers currently fetching.",
			},
		)

		activeWorks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_works",
				Help: "Number of work downloads currently running.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
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

// ObserveChapterFetch records one chapter fetch outcome.
func ObserveChapterFetch(strategy, result string, attempts int) {
	Init()
	if strategy == "" {
		strategy = "none"
	}
	chapterFetchTotal.WithLabelValues(strategy, result).Inc()
	if attempts > 0 {
		chapterFetchAttempts.Observe(float64(attempts))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSessionProbe counts a probed session candidate ("valid", "invalid" or "error").
func ObserveSessionProbe(result string) {
	Init()
	sessionProbesTotal.WithLabelValues(result).Inc()
}

// ObserveCheckpointFlush counts a checkpoint write.
func ObserveCheckpointFlush(err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	checkpointFlushesTotal.WithLabelValues(result).Inc()
}

// ObserveWork increments the work counter for the given status.
func ObserveWork(status string) {
	Init()
	worksTotal.WithLabelValues(status).Inc()
}

// IncActiveChapterWorkers increments the chapter worker gauge.
func IncActiveChapterWorkers() {
	Init()
	activeChapterWorkers.Inc()
}

// DecActiveChapterWorkers decrements the chapter worker gauge.
func DecActiveChapterWorkers() {
	Init()
	activeChapterWorkers.Dec()
}

// IncActiveWorks increments the running work downloads gauge.
func IncActiveWorks() {
	Init()
	activeWorks.Inc()
}

// DecActiveWorks decrements the running work downloads gauge.
func DecActiveWorks() {
	Init()
	activeWorks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
