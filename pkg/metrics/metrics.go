// Package metrics defines the Prometheus metric collectors used across the
// build and query pipelines and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	DocsIndexedTotal     prometheus.Counter
	RecordsSkippedTotal  prometheus.Counter
	BlocksFlushedTotal   prometheus.Counter
	BlockFlushDuration   prometheus.Histogram
	MergeDuration        *prometheus.HistogramVec
	TermsMergedTotal     prometheus.Counter
	QueryLatency         *prometheus.HistogramVec
	QueriesTotal         *prometheus.CounterVec
	QueryResultsCount    prometheus.Histogram
	BarrelCacheHits      prometheus.Counter
	BarrelCacheMisses    prometheus.Counter
	BarrelCacheEvictions prometheus.Counter
	AutocompleteLatency  prometheus.Histogram
	SuggestRequestsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_docs_indexed_total",
				Help: "Total documents accepted into the index build.",
			},
		),
		RecordsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_records_skipped_total",
				Help: "Total malformed input records skipped during the build.",
			},
		),
		BlocksFlushedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_blocks_flushed_total",
				Help: "Total in-memory blocks flushed to disk.",
			},
		),
		BlockFlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "papyrus_block_flush_duration_seconds",
				Help:    "Time spent writing one block to disk.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		MergeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "papyrus_merge_duration_seconds",
				Help:    "Time spent merging blocks, per barrel.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"barrel"},
		),
		TermsMergedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_terms_merged_total",
				Help: "Total distinct terms written during the merge.",
			},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "papyrus_query_latency_seconds",
				Help:    "Search query latency in seconds by mode.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papyrus_queries_total",
				Help: "Total search queries by mode and outcome (ok, empty, timeout, error).",
			},
			[]string{"mode", "outcome"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "papyrus_query_results_count",
				Help:    "Number of results returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		BarrelCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_barrel_cache_hits_total",
				Help: "Total barrel cache hits.",
			},
		),
		BarrelCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_barrel_cache_misses_total",
				Help: "Total barrel cache misses.",
			},
		),
		BarrelCacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_barrel_cache_evictions_total",
				Help: "Total barrels evicted from the cache.",
			},
		),
		AutocompleteLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "papyrus_autocomplete_latency_seconds",
				Help:    "Autocomplete lookup latency in seconds.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
			},
		),
		SuggestRequestsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "papyrus_suggest_requests_total",
				Help: "Total autocomplete suggestion requests.",
			},
		),
	}

	prometheus.MustRegister(
		m.DocsIndexedTotal,
		m.RecordsSkippedTotal,
		m.BlocksFlushedTotal,
		m.BlockFlushDuration,
		m.MergeDuration,
		m.TermsMergedTotal,
		m.QueryLatency,
		m.QueriesTotal,
		m.QueryResultsCount,
		m.BarrelCacheHits,
		m.BarrelCacheMisses,
		m.BarrelCacheEvictions,
		m.AutocompleteLatency,
		m.SuggestRequestsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
