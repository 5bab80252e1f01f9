// Package metrics exposes Prometheus collectors for the menu service.
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
	crawlRunsTotal             *prometheus.CounterVec
	crawlRunDurationSeconds    prometheus.Histogram
	crawlFetchesTotal          *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	parseDropsTotal            *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	cacheEvictionsTotal        prometheus.Counter
	cacheStaleServesTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menud_crawl_runs_total",
				Help: "Total number of crawl runs, labeled by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		)

		crawlRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "menud_crawl_run_duration_seconds",
				Help:    "Histogram of whole-cycle crawl durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		crawlFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menud_crawl_fetches_total",
				Help: "Total number of target fetches, labeled by target and result.",
			},
			[]string{"target", "result"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menud_records_total",
				Help: "Total reconciled records, labeled by action (inserted/updated/skipped/failed).",
			},
			[]string{"action"},
		)

		parseDropsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menud_parse_drops_total",
				Help: "Total records dropped during parsing, labeled by target.",
			},
			[]string{"target"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menud_cache_lookups_total",
				Help: "Total cache lookups, labeled by result (hit/miss/expired).",
			},
			[]string{"result"},
		)

		cacheEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "menud_cache_evictions_total",
				Help: "Total LRU evictions.",
			},
		)

		cacheStaleServesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "menud_cache_stale_serves_total",
				Help: "Total reads answered from an expired entry inside the grace window.",
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

// ObserveCrawlRun records a finished run.
func ObserveCrawlRun(trigger, outcome string, duration time.Duration) {
	if crawlRunsTotal == nil {
		return
	}
	crawlRunsTotal.WithLabelValues(trigger, outcome).Inc()
	crawlRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch records one target fetch attempt.
func ObserveFetch(target, result string) {
	if crawlFetchesTotal == nil {
		return
	}
	crawlFetchesTotal.WithLabelValues(target, result).Inc()
}

// ObserveRecord increments the reconcile action counter.
func ObserveRecord(action string) {
	if recordsTotal == nil {
		return
	}
	recordsTotal.WithLabelValues(action).Inc()
}

// ObserveParseDrops counts records dropped while parsing a target.
func ObserveParseDrops(target string, n int) {
	if parseDropsTotal == nil || n == 0 {
		return
	}
	parseDropsTotal.WithLabelValues(target).Add(float64(n))
}

// ObserveCacheLookup increments the cache lookup counter.
func ObserveCacheLookup(result string) {
	if cacheLookupsTotal == nil {
		return
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheEviction increments the eviction counter.
func ObserveCacheEviction() {
	if cacheEvictionsTotal == nil {
		return
	}
	cacheEvictionsTotal.Inc()
}

// ObserveStaleServe increments the stale-serve counter.
func ObserveStaleServe() {
	if cacheStaleServesTotal == nil {
		return
	}
	cacheStaleServesTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
