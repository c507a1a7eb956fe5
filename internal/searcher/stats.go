package searcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/papyrus-search/papyrus/internal/searcher/planner"
	"github.com/papyrus-search/papyrus/pkg/logger"
)

// Stats accumulates per-mode query latencies for the shutdown report.
type Stats struct {
	mu      sync.Mutex
	samples map[planner.Mode][]time.Duration
	logger  *slog.Logger
}

// NewStats creates an empty collector.
func NewStats() *Stats {
	return &Stats{
		samples: make(map[planner.Mode][]time.Duration),
		logger:  logger.WithComponent("query-stats"),
	}
}

// Record adds one completed query's latency.
func (s *Stats) Record(mode planner.Mode, elapsed time.Duration) {
	s.mu.Lock()
	s.samples[mode] = append(s.samples[mode], elapsed)
	s.mu.Unlock()
}

// ModeSummary is the latency distribution of one query mode.
type ModeSummary struct {
	Mode   planner.Mode
	Count  int
	Min    time.Duration
	Median time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
	Total  time.Duration
}

// Summaries returns one summary per mode that saw queries, ordered OR, AND,
// PHRASE.
func (s *Stats) Summaries() []ModeSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ModeSummary, 0, len(s.samples))
	for _, mode := range []planner.Mode{planner.ModeOR, planner.ModeAND, planner.ModePhrase} {
		samples := s.samples[mode]
		if len(samples) == 0 {
			continue
		}
		sorted := make([]time.Duration, len(samples))
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		out = append(out, ModeSummary{
			Mode:   mode,
			Count:  len(sorted),
			Min:    sorted[0],
			Median: percentile(sorted, 0.50),
			P95:    percentile(sorted, 0.95),
			P99:    percentile(sorted, 0.99),
			Max:    sorted[len(sorted)-1],
			Total:  total,
		})
	}
	return out
}

// Report logs the per-mode latency summaries. Called on searcher shutdown.
func (s *Stats) Report() {
	summaries := s.Summaries()
	if len(summaries) == 0 {
		s.logger.Info("no queries executed")
		return
	}
	for _, sum := range summaries {
		s.logger.Info("query latency summary",
			"mode", sum.Mode,
			"count", sum.Count,
			"min", sum.Min,
			"median", sum.Median,
			"p95", sum.P95,
			"p99", sum.P99,
			"max", sum.Max,
			"avg", sum.Total/time.Duration(sum.Count),
		)
	}
}

// percentile picks the sample at 1-based rank round(p·n) of an ascending
// sample set, clamped to the set's bounds.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
