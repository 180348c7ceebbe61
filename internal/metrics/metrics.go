// Package metrics exposes Prometheus collectors for the harvester.
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

// Row outcomes recorded by ObserveRows.
const (
	RowStored     = "stored"
	RowDuplicate  = "duplicate"
	RowUnresolved = "unresolved"
	RowSkipped    = "skipped"
	RowPending    = "pending"
)

var (
	feedPollsTotal             *prometheus.CounterVec
	meetsDispatchedTotal       prometheus.Counter
	rowsTotal                  *prometheus.CounterVec
	entitiesCreatedTotal       *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	scheduledDelaySeconds      *prometheus.HistogramVec
	inflightTasks              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		feedPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_feed_polls_total",
				Help: "Root feed polls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		meetsDispatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_meets_dispatched_total",
				Help: "Meet ingestion tasks scheduled from the feed.",
			},
		)

		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rows_total",
				Help: "Extracted result rows, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		entitiesCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_entities_created_total",
				Help: "Athletes and schools created on first sight.",
			},
			[]string{"kind"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Document fetches, labeled by host and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scheduledDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_scheduled_delay_seconds",
				Help:    "Politeness delay chosen for scheduled tasks.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 21600, 86400},
			},
			[]string{"task"},
		)

		inflightTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_inflight_tasks",
				Help: "Tasks past their delay and currently running.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// ObserveFeedPoll counts one poll of the root feed.
func ObserveFeedPoll(outcome string) {
	Init()
	feedPollsTotal.WithLabelValues(outcome).Inc()
}

// ObserveMeetDispatched counts one scheduled meet ingestion.
func ObserveMeetDispatched() {
	Init()
	meetsDispatchedTotal.Inc()
}

// ObserveRows adds n rows with the given outcome.
func ObserveRows(outcome string, n int) {
	Init()
	if n > 0 {
		rowsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveEntityCreated counts a newly inserted athlete or school.
func ObserveEntityCreated(kind string) {
	Init()
	entitiesCreatedTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch counts a document fetch.
func ObserveFetch(rawURL string, outcome string) {
	Init()
	fetchesTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveScheduledDelay records the delay chosen for a task.
func ObserveScheduledDelay(task string, delay time.Duration) {
	Init()
	scheduledDelaySeconds.WithLabelValues(task).Observe(delay.Seconds())
}

// IncInflightTasks increments the running task gauge.
func IncInflightTasks() {
	Init()
	inflightTasks.Inc()
}

// DecInflightTasks decrements the running task gauge.
func DecInflightTasks() {
	Init()
	inflightTasks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
