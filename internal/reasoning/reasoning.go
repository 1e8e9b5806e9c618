// Package reasoning implements anomaly detection, pattern
// classification, and competing-hypothesis generation (spec.md §4.E).
// It is stateless across cycles except for a small belief cache
// (spec.md §3 "E/F are stateless except E holds a small belief
// cache"); the cache is keyed by pattern family, not by dimension, and
// holds each pattern's last best confidence. Grounded on the teacher's internal/risk/manager.go
// calculateRiskScore (multi-signal scoring feeding a classification
// decision) and internal/decision/engine.go's corroboration/embargo
// analysis for the "competing hypotheses with confidence" idiom.
package reasoning

import (
	"fmt"

	"github.com/Rajchodisetti/paymentops-agent/internal/types"
	"github.com/Rajchodisetti/paymentops-agent/internal/window"
)

// Flag is one anomalous dimension surfaced by anomaly detection
// (spec.md §4.E.1).
type Flag struct {
	Dimension types.DimensionKey
	Z         window.ZScores
	Stats     window.Stats
}

// Reasoner holds the small belief cache across cycles.
type Reasoner struct {
	tau          float64
	tauUncertain float64
	latencySLAMs float64

	lastConfidence map[types.PatternFamily]float64
}

// New constructs a reasoner with the configured anomaly threshold τ,
// uncertainty threshold τ_uncertain, and latency SLA.
func New(tau, tauUncertain, latencySLAMs float64) *Reasoner {
	return &Reasoner{
		tau:            tau,
		tauUncertain:   tauUncertain,
		latencySLAMs:   latencySLAMs,
		lastConfidence: make(map[types.PatternFamily]float64),
	}
}

// DetectAnomalies computes Z-scores for every tracked dimension and
// flags those exceeding τ in any of success/latency/retry (spec.md
// §4.E.1). Dimensions below the minimum sample gate never appear here.
func (r *Reasoner) DetectAnomalies(w *window.Window) []Flag {
	var flags []Flag
	for _, dim := range w.Dimensions() {
		z, ok := w.ZScore(dim)
		if !ok {
			continue
		}
		stats := w.Stats(dim)
		if absF(z.Success) > r.tau || absF(z.Latency) > r.tau || absF(z.Retry) > r.tau {
			flags = append(flags, Flag{Dimension: dim, Z: z, Stats: stats})
		}
	}
	return flags
}

// Result bundles one cycle's reasoning output for the decision policy.
type Result struct {
	Flags      []Flag
	Pattern    types.PatternFamily
	Hypotheses []types.Hypothesis
}

// Run executes anomaly detection, classification, and hypothesis
// generation in sequence for one cycle (spec.md §4.E).
func (r *Reasoner) Run(w *window.Window) Result {
	flags := r.DetectAnomalies(w)
	pattern := r.Classify(flags)
	hyps := r.Explain(pattern, flags)
	return Result{Flags: flags, Pattern: pattern, Hypotheses: hyps}
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Classify maps the set of anomalous flags to a pattern family
// (spec.md §4.E.2). It returns PatternNone when nothing is flagged.
func (r *Reasoner) Classify(flags []Flag) types.PatternFamily {
	if len(flags) == 0 {
		return types.PatternNone
	}

	var global *Flag
	issuerFlags := map[types.Issuer]Flag{}
	methodFlags := map[types.Method]Flag{}
	for i := range flags {
		f := &flags[i]
		switch f.Dimension.Kind {
		case "global":
			global = f
		case "issuer":
			issuerFlags[types.Issuer(f.Dimension.Value)] = *f
		case "method":
			methodFlags[types.Method(f.Dimension.Value)] = *f
		}
	}

	for issuer, f := range issuerFlags {
		if f.Stats.SuccessRate < 0.4 {
			_ = issuer
			return types.PatternIssuerOutage
		}
	}

	for _, f := range flags {
		if f.Z.Retry > r.tau || f.Stats.RetryRate > 0.3 {
			return types.PatternRetryStorm
		}
	}

	if len(methodFlags) > 0 {
		allMethodDriven := true
		for _, f := range methodFlags {
			if f.Z.Success >= -r.tau {
				allMethodDriven = false
			}
		}
		if allMethodDriven && len(issuerFlags) == 0 {
			return types.PatternMethodFatigue
		}
	}

	for _, f := range flags {
		if f.Z.Latency > r.tau || f.Stats.P95Latency > r.latencySLAMs {
			return types.PatternLatencySpike
		}
	}

	flaggedIssuerCount := 0
	for range issuerFlags {
		flaggedIssuerCount++
	}
	if global != nil && global.Z.Success < -r.tau && flaggedIssuerCount >= 3 {
		return types.PatternSystemicFailure
	}

	if len(issuerFlags) == 1 {
		for _, f := range issuerFlags {
			if f.Z.Success < -r.tau && (global == nil || global.Z.Success < 0) {
				return types.PatternIssuerDegradation
			}
		}
	}

	if flaggedIssuerCount > 0 || global != nil {
		return types.PatternLocalizedFailure
	}

	return types.PatternNone
}

// Explain generates competing root-cause hypotheses for a pattern
// (spec.md §4.E.3). Confidence rises strictly monotonically with each
// added supporting piece of evidence and falls with each contradicting
// one; when the best confidence is below τ_uncertain, Uncertain is set
// on every returned hypothesis and its description must say so.
func (r *Reasoner) Explain(pattern types.PatternFamily, flags []Flag) []types.Hypothesis {
	if pattern == types.PatternNone {
		return nil
	}

	var hyps []types.Hypothesis
	switch pattern {
	case types.PatternIssuerDegradation, types.PatternIssuerOutage:
		hyps = []types.Hypothesis{
			newHypothesis("issuer_side_degradation", pattern, flags, 0.55),
			newHypothesis("gateway_side_throttling", pattern, flags, 0.35),
		}
	case types.PatternRetryStorm:
		hyps = []types.Hypothesis{
			newHypothesis("client_retry_misconfiguration", pattern, flags, 0.5),
			newHypothesis("issuer_transient_overload", pattern, flags, 0.4),
		}
	case types.PatternMethodFatigue:
		hyps = []types.Hypothesis{
			newHypothesis("rail_specific_outage", pattern, flags, 0.5),
			newHypothesis("fraud_rule_overtrigger", pattern, flags, 0.3),
		}
	case types.PatternLatencySpike:
		hyps = []types.Hypothesis{
			newHypothesis("issuer_network_congestion", pattern, flags, 0.5),
			newHypothesis("downstream_dependency_slowdown", pattern, flags, 0.35),
		}
	case types.PatternSystemicFailure:
		hyps = []types.Hypothesis{
			newHypothesis("shared_dependency_outage", pattern, flags, 0.6),
			newHypothesis("coincident_independent_failures", pattern, flags, 0.25),
		}
	default:
		hyps = []types.Hypothesis{newHypothesis("localized_anomaly", pattern, flags, 0.45)}
	}

	best := 0.0
	for _, h := range hyps {
		if h.Confidence > best {
			best = h.Confidence
		}
	}
	if best < r.tauUncertain {
		for i := range hyps {
			hyps[i].Uncertain = true
			hyps[i].ExpectedImpact = "uncertain: " + hyps[i].ExpectedImpact
		}
	}
	r.lastConfidence[pattern] = best
	return hyps
}

func newHypothesis(tag string, pattern types.PatternFamily, flags []Flag, base float64) types.Hypothesis {
	var supporting, contradicting []types.Evidence
	confidence := base
	for _, f := range flags {
		ev := types.Evidence{
			Description: fmt.Sprintf("%s z-scores success=%.2f latency=%.2f retry=%.2f", f.Dimension.Kind, f.Z.Success, f.Z.Latency, f.Z.Retry),
			Dimension:   f.Dimension,
			ZScore:      f.Z.Success,
		}
		if f.Z.Success < 0 {
			supporting = append(supporting, ev)
			confidence += 0.05
		} else {
			contradicting = append(contradicting, ev)
			confidence -= 0.05
		}
	}
	if confidence > 0.99 {
		confidence = 0.99
	}
	if confidence < 0.01 {
		confidence = 0.01
	}
	return types.Hypothesis{
		ID:                    tag,
		RootCauseTag:          tag,
		Confidence:            confidence,
		SupportingEvidence:    supporting,
		ContradictingEvidence: contradicting,
		ExpectedImpact:        fmt.Sprintf("pattern=%s tag=%s", pattern, tag),
		Pattern:               pattern,
	}
}
