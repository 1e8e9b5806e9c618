package types

import "time"

// InterventionType is the closed set of candidate intervention kinds
// the decision policy may select (spec.md §3, §4.F).
type InterventionType string

const (
	InterventionAdjustRetry         InterventionType = "adjust_retry"
	InterventionSuppressPath        InterventionType = "suppress_path"
	InterventionRerouteTraffic      InterventionType = "reroute_traffic"
	InterventionReduceRetryAttempts InterventionType = "reduce_retry_attempts"
	InterventionAlertOps            InterventionType = "alert_ops"
	InterventionNoAction            InterventionType = "no_action"
)

// InterventionStatus tracks where an ActiveIntervention sits in the
// decision state machine (spec.md §4.F "State machine of a decision").
type InterventionStatus string

const (
	StatusActing           InterventionStatus = "acting"
	StatusRamping          InterventionStatus = "ramping" // expired, multiplier decaying to 1.0
	StatusExpired          InterventionStatus = "expired"
	StatusRolledBack       InterventionStatus = "rolled_back"
	StatusRolledBackFailed InterventionStatus = "rolled_back_failed"
)

// RollbackCondition names a condition that, if it fires, forces an
// early rollback of an ActiveIntervention.
type RollbackCondition string

const (
	RollbackSustainedDegradation RollbackCondition = "sustained_degradation"
	RollbackMetricRegression     RollbackCondition = "metric_regression"
	RollbackManual               RollbackCondition = "manual"
)

// InterventionParameters bundles the tunable knobs an option/active
// intervention carries. Not every field applies to every type.
type InterventionParameters struct {
	DurationMs          int64
	RetryReductionRatio float64 // e.g. 0.5 for reduce_retry_attempts
	RerouteTargetIssuer Issuer
}

// ActiveIntervention is owned exclusively by the feedback controller.
// Invariant: EndMs > StartMs.
type ActiveIntervention struct {
	ID                 string
	Type               InterventionType
	Target             Issuer // empty string means fleet-wide
	Parameters         InterventionParameters
	StartMs            int64
	EndMs              int64
	RollbackConditions []RollbackCondition
	Status             InterventionStatus
}

// DefaultInterventionDurationMs is applied when an option does not
// specify a duration (spec.md §4.B).
const DefaultInterventionDurationMs = 300_000

// RampDuration is the linear ramp-back window applied after expiry
// (spec.md §4.B, §9 Open Question (ii)): 30-60s, we pick 45s.
const RampDuration = 45 * time.Second

// InterventionOption is a candidate action the policy ranks by NRV.
type InterventionOption struct {
	Type            InterventionType
	Target          Issuer
	Parameters      InterventionParameters
	ExpectedOutcome ExpectedOutcome
	Tradeoffs       Tradeoffs
	Reversible      bool
	BlastRadius     float64 // [0,1]
}

// ExpectedOutcome captures the NRV formula's revenue-lift inputs
// (spec.md §4.F).
type ExpectedOutcome struct {
	ExpectedSuccessLift float64 // fraction, e.g. 0.05 = +5pp success rate
	AvgTicketValue      float64
	WindowVolume        float64
}

// Tradeoffs captures the NRV formula's cost/penalty inputs.
type Tradeoffs struct {
	InterventionCost float64
	LatencyPenalty   float64
	RiskPenalty      float64
}

// Decision is the outcome of one policy cycle (spec.md §3).
type Decision struct {
	ShouldAct             bool
	SelectedOption        *InterventionOption
	Rationale             string
	Alternatives          []InterventionOption
	RequiresHumanApproval bool
	NRV                   float64
	MinFreqTriggered      bool
	PatternFamily         PatternFamily
}
