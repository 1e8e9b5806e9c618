package types

// PatternFamily is the closed set of failure patterns the reasoning
// layer classifies anomalies into (spec.md GLOSSARY, §4.E).
type PatternFamily string

const (
	PatternIssuerDegradation PatternFamily = "issuer_degradation"
	PatternIssuerOutage      PatternFamily = "issuer_outage"
	PatternRetryStorm        PatternFamily = "retry_storm"
	PatternMethodFatigue     PatternFamily = "method_fatigue"
	PatternLatencySpike      PatternFamily = "latency_spike"
	PatternSystemicFailure   PatternFamily = "systemic_failure"
	PatternLocalizedFailure  PatternFamily = "localized_failure"
	PatternNone              PatternFamily = "" // no anomaly flagged
)

// DimensionKey identifies the slice of traffic a baseline/anomaly
// applies to (spec.md §3 "Baseline").
type DimensionKey struct {
	Kind  string // "issuer" | "method" | "geo" | "global"
	Value string // e.g. issuer name, method name, or "" for global
}

func GlobalDimension() DimensionKey { return DimensionKey{Kind: "global", Value: ""} }

func IssuerDimension(i Issuer) DimensionKey { return DimensionKey{Kind: "issuer", Value: string(i)} }

func MethodDimension(m Method) DimensionKey { return DimensionKey{Kind: "method", Value: string(m)} }

// Evidence is a single piece of supporting or contradicting signal
// attached to a Hypothesis, recorded for explainability.
type Evidence struct {
	Description string
	Dimension   DimensionKey
	ZScore      float64
}

// Hypothesis is a candidate root-cause explanation emitted by the
// reasoning layer (spec.md §3). Confidence must rise strictly
// monotonically with added supporting evidence and fall with
// contradicting evidence (spec.md §4.E).
type Hypothesis struct {
	ID                    string
	RootCauseTag          string
	Confidence            float64 // [0,1]
	SupportingEvidence    []Evidence
	ContradictingEvidence []Evidence
	ExpectedImpact        string
	Pattern               PatternFamily
	Uncertain             bool
}

// TauUncertain is the confidence threshold below which the belief
// state must be flagged uncertain (spec.md §4.E, default 0.5).
const TauUncertain = 0.5
