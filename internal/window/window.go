// Package window implements the sliding observation window and the
// per-dimension EWMA baseline manager (spec.md §4.D). Grounded on the
// teacher's internal/risk/volatility.go for the EWMA-of-returns/EWMA-
// of-squared-deviation update shape, generalized here from a single
// global volatility figure to one baseline per dimension key.
package window

import (
	"math"
	"sort"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

// Stats are the per-dimension aggregates derived from a window read
// (spec.md §3 "ObservationWindow... Derived").
type Stats struct {
	Total       int
	SuccessRate float64
	P50Latency  float64
	P95Latency  float64
	P99Latency  float64
	AvgRetry    float64
	RetryRate   float64 // fraction of transactions with retry_count > 0
}

// Baseline is the EWMA belief state for one dimension key (spec.md §3
// "Baseline"). Created lazily, never destroyed within a run (P5).
type Baseline struct {
	SuccessMean float64
	SuccessVar  float64
	LatencyMean float64
	LatencyVar  float64
	RetryMean   float64
	RetryVar    float64
	Samples     int64
}

// ZScores bundles the three Z-scores computed against a Baseline.
type ZScores struct {
	Success float64
	Latency float64
	Retry   float64
}

// Window owns the retained transaction slice and every dimension's
// Baseline (spec.md §3 ownership table).
type Window struct {
	duration   time.Duration
	alpha      float64
	minSamples int64

	entries []types.Transaction
	stats   map[types.DimensionKey]Stats
	base    map[types.DimensionKey]*Baseline
	zcache  map[types.DimensionKey]ZScores
	zvalid  map[types.DimensionKey]bool
}

// New constructs an empty window.
func New(duration time.Duration, alpha float64, minSamples int) *Window {
	return &Window{
		duration:   duration,
		alpha:      alpha,
		minSamples: int64(minSamples),
		stats:      make(map[types.DimensionKey]Stats),
		base:       make(map[types.DimensionKey]*Baseline),
		zcache:     make(map[types.DimensionKey]ZScores),
		zvalid:     make(map[types.DimensionKey]bool),
	}
}

// Ingest appends freshly generated transactions to the retained set;
// eviction happens on the next Refresh, not here, matching the
// teacher's read-then-evict idiom for derived aggregates.
func (w *Window) Ingest(txns []types.Transaction) {
	w.entries = append(w.entries, txns...)
}

// Refresh evicts entries older than now-W, recomputes per-dimension
// Stats, and folds this cycle's observation into every dimension's
// Baseline (spec.md §4.D). Must be called exactly once per cycle,
// before Reasoning runs against it (spec.md §5 ordering guarantee 1).
func (w *Window) Refresh(now time.Time) {
	cutoff := now.Add(-w.duration).UnixMilli()
	kept := w.entries[:0]
	for _, t := range w.entries {
		if t.TimestampMs >= cutoff {
			kept = append(kept, t)
		}
	}
	w.entries = kept

	groups := make(map[types.DimensionKey][]types.Transaction)
	groups[types.GlobalDimension()] = w.entries
	for _, t := range w.entries {
		ik := types.IssuerDimension(t.Issuer)
		groups[ik] = append(groups[ik], t)
		mk := types.MethodDimension(t.Method)
		groups[mk] = append(groups[mk], t)
	}

	for key, txns := range groups {
		s := computeStats(txns)
		w.stats[key] = s
		// Z-scores compare this cycle's observation against the
		// baseline accumulated from every *prior* cycle, so a
		// degraded reading cannot dilute itself into invisibility by
		// shifting the baseline before the comparison is made.
		w.computeZCache(key, s)
		w.foldBaseline(key, s)
	}
}

func (w *Window) computeZCache(key types.DimensionKey, s Stats) {
	b, ok := w.base[key]
	if !ok || int64(s.Total) < w.minSamples {
		w.zvalid[key] = false
		return
	}
	w.zcache[key] = ZScores{
		Success: zOf(s.SuccessRate, b.SuccessMean, b.SuccessVar),
		Latency: zOf(s.P50Latency, b.LatencyMean, b.LatencyVar),
		Retry:   zOf(s.RetryRate, b.RetryMean, b.RetryVar),
	}
	w.zvalid[key] = true
}

func computeStats(txns []types.Transaction) Stats {
	s := Stats{Total: len(txns)}
	if len(txns) == 0 {
		return s
	}
	successes := 0
	retrySum := 0
	retriedCount := 0
	latencies := make([]float64, len(txns))
	for i, t := range txns {
		if t.Success() {
			successes++
		}
		retrySum += t.RetryCount
		if t.RetryCount > 0 {
			retriedCount++
		}
		latencies[i] = t.LatencyMs
	}
	sort.Float64s(latencies)
	s.SuccessRate = float64(successes) / float64(len(txns))
	s.AvgRetry = float64(retrySum) / float64(len(txns))
	s.RetryRate = float64(retriedCount) / float64(len(txns))
	s.P50Latency = percentile(latencies, 0.50)
	s.P95Latency = percentile(latencies, 0.95)
	s.P99Latency = percentile(latencies, 0.99)
	return s
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// foldBaseline updates a dimension's EWMA baseline with this cycle's
// observed Stats (spec.md §4.D update rule). Baselines are created
// lazily on first sighting and never reset (P5 baseline continuity).
func (w *Window) foldBaseline(key types.DimensionKey, s Stats) {
	if s.Total == 0 {
		return
	}
	b, ok := w.base[key]
	if !ok {
		b = &Baseline{SuccessMean: s.SuccessRate, LatencyMean: s.P50Latency, RetryMean: s.RetryRate}
		w.base[key] = b
	}
	a := w.alpha

	dSuccess := s.SuccessRate - b.SuccessMean
	b.SuccessMean += a * dSuccess
	b.SuccessVar = (1-a)*b.SuccessVar + a*dSuccess*dSuccess

	dLatency := s.P50Latency - b.LatencyMean
	b.LatencyMean += a * dLatency
	b.LatencyVar = (1-a)*b.LatencyVar + a*dLatency*dLatency

	dRetry := s.RetryRate - b.RetryMean
	b.RetryMean += a * dRetry
	b.RetryVar = (1-a)*b.RetryVar + a*dRetry*dRetry

	b.Samples++
}

// Stats returns the most recently computed aggregates for key, or the
// zero value if the dimension has never been observed.
func (w *Window) Stats(key types.DimensionKey) Stats { return w.stats[key] }

// Dimensions lists every dimension key currently tracked, for the
// reasoning layer to iterate over.
func (w *Window) Dimensions() []types.DimensionKey {
	keys := make([]types.DimensionKey, 0, len(w.stats))
	for k := range w.stats {
		keys = append(keys, k)
	}
	return keys
}

// Baseline returns a read-only copy of a dimension's current baseline.
// The second return is false if no baseline exists yet.
func (w *Window) Baseline(key types.DimensionKey) (Baseline, bool) {
	b, ok := w.base[key]
	if !ok {
		return Baseline{}, false
	}
	return *b, true
}

// ZScore computes Z-scores for a dimension's current Stats against its
// Baseline (spec.md §4.E.1). Returns the zero value and false if the
// window's sample size for this dimension has not yet reached the
// minimum sample gate (spec.md §3 ObservationWindow invariant, §4.D
// "Minimum sample gate": "anomalies are suppressed until ... sample
// count ≥ 50").
func (w *Window) ZScore(key types.DimensionKey) (ZScores, bool) {
	if !w.zvalid[key] {
		return ZScores{}, false
	}
	return w.zcache[key], true
}

func zOf(x, mean, variance float64) float64 {
	sd := math.Sqrt(variance)
	if sd < 1e-9 {
		return 0
	}
	return (x - mean) / sd
}

// Snapshot and Restore support persisting/reloading baselines across
// restarts (spec.md §6 "Persisted state", P11).
type Snapshot struct {
	Baselines map[types.DimensionKey]Baseline
}

func (w *Window) Snapshot() Snapshot {
	out := make(map[types.DimensionKey]Baseline, len(w.base))
	for k, v := range w.base {
		out[k] = *v
	}
	return Snapshot{Baselines: out}
}

func (w *Window) Restore(s Snapshot) {
	w.base = make(map[types.DimensionKey]*Baseline, len(s.Baselines))
	for k, v := range s.Baselines {
		cp := v
		w.base[k] = &cp
	}
}
