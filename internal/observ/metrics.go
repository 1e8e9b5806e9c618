package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	k := canonLabels(labels)
	m[k] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	k := canonLabels(labels)
	m[k] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordHistogram records a histogram observation
func RecordHistogram(name string, value float64, labels map[string]string) {
	Observe(name, value, labels)
}

// RecordGauge records a gauge value
func RecordGauge(name string, value float64, labels map[string]string) {
	SetGauge(name, value, labels)
}

// RecordDuration records a duration metric
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus represents overall system health status
type HealthStatus struct {
	Status    string                 `json:"status"`    // "healthy", "degraded", "failed"
	Timestamp string                 `json:"timestamp"` // ISO 8601
	Uptime    string                 `json:"uptime"`    // Duration since start
	Version   string                 `json:"version"`   // Build version
	Metrics   SafetyMetrics          `json:"metrics"`
	Details   map[string]interface{} `json:"details"`
}

// SafetyMetrics mirrors the telemetry envelope's safety_metrics block
// (spec.md §6) so the debug health endpoint and the dashboard feed agree.
type SafetyMetrics struct {
	FalsePositiveRate  float64 `json:"false_positive_rate"`
	AvgResponseTimeSec float64 `json:"avg_response_time_s"`
	RollbackRate       float64 `json:"rollback_rate"`
	HumanEscalations   int64   `json:"human_escalations"`
	CycleOverruns      int64   `json:"cycle_overruns_total"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// HealthHandler returns a health endpoint summarizing agent safety metrics.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics := CurrentSafetyMetrics()

		status := "healthy"
		if metrics.RollbackRate > 0.3 || metrics.FalsePositiveRate > 0.5 {
			status = "degraded"
		}
		if metrics.CycleOverruns > 10 {
			status = "degraded"
		}

		health := HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   metrics,
			Details:   map[string]interface{}{},
		}

		statusCode := http.StatusOK
		if health.Status == "degraded" {
			statusCode = http.StatusPartialContent
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

// CurrentSafetyMetrics derives the telemetry safety_metrics block from the
// counters and histogram that the orchestrator package already records.
func CurrentSafetyMetrics() SafetyMetrics {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	sum := func(name string) int64 {
		var total int64
		for _, v := range reg.counters[name] {
			total += v
		}
		return total
	}

	actions := sum("decisions_action_total")
	falsePositives := sum("decisions_rolled_back_total")
	rollbacks := sum("interventions_rolled_back_total")
	escalations := sum("decisions_human_escalation_total")
	overruns := sum("cycle_overrun_total")

	var fpRate, rbRate float64
	if actions > 0 {
		fpRate = float64(falsePositives) / float64(actions)
		rbRate = float64(rollbacks) / float64(actions)
	}

	var avgResponse float64
	if samples, ok := reg.hist["cycle_processing_seconds"]; ok {
		var total float64
		var n int
		for _, xs := range samples {
			for _, x := range xs {
				total += x
				n++
			}
		}
		if n > 0 {
			avgResponse = total / float64(n)
		}
	}

	return SafetyMetrics{
		FalsePositiveRate:  fpRate,
		AvgResponseTimeSec: avgResponse,
		RollbackRate:       rbRate,
		HumanEscalations:   escalations,
		CycleOverruns:      overruns,
	}
}

// Health is a trivial liveness handler, kept separate from HealthHandler's
// richer safety-metrics report.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
