// Package types holds the data model shared across the agent's
// subsystems: transactions, issuer state, interventions, hypotheses,
// and decisions. Enumerations are modeled as typed string constants
// with exhaustive switches at the call site, following the pattern the
// teacher repo uses for CircuitBreakerState.
package types

import "time"

// Issuer is a closed enumeration of the fleet's card issuers.
type Issuer string

const (
	IssuerHDFC  Issuer = "HDFC"
	IssuerICICI Issuer = "ICICI"
	IssuerAxis  Issuer = "AXIS"
	IssuerSBI   Issuer = "SBI"
)

// AllIssuers is the fixed issuer set the simulator and reasoning
// components iterate over.
var AllIssuers = []Issuer{IssuerHDFC, IssuerICICI, IssuerAxis, IssuerSBI}

// Method is a closed enumeration of payment rails.
type Method string

const (
	MethodCard   Method = "card"
	MethodUPI    Method = "upi"
	MethodWallet Method = "wallet"
)

// AllMethods is the fixed method set used for per-method pattern checks.
var AllMethods = []Method{MethodCard, MethodUPI, MethodWallet}

// Outcome is a closed enumeration of authorization outcomes.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSoftFail Outcome = "soft_fail"
	OutcomeHardFail Outcome = "hard_fail"
)

// Transaction is an immutable authorization outcome record. Created by
// the generator, consumed by the observation window; never mutated
// after construction.
type Transaction struct {
	ID          string
	TimestampMs int64
	Issuer      Issuer
	Method      Method
	Outcome     Outcome
	LatencyMs   float64
	RetryCount  int
	ErrorCode   string
	Amount      float64
}

// Success reports whether the transaction succeeded, a convenience used
// throughout window aggregation.
func (t Transaction) Success() bool { return t.Outcome == OutcomeSuccess }

// Failed reports whether the transaction ended in either failure mode.
func (t Transaction) Failed() bool {
	return t.Outcome == OutcomeSoftFail || t.Outcome == OutcomeHardFail
}

// Time returns the transaction timestamp as a time.Time for formatting.
func (t Transaction) Time() time.Time { return time.UnixMilli(t.TimestampMs) }
