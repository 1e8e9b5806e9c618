package types

import "time"

// IssuerState is the per-issuer latent state owned exclusively by the
// drift engine (spec.md §3, §4.A). Invariant: all three fields stay
// within bounds after every update.
type IssuerState struct {
	SuccessRate float64 // [0,1]
	LatencyMs   float64 // [50,2000]
	RetryProb   float64 // [0,0.5]
	LastUpdated time.Time
}

const (
	MinLatencyMs = 50.0
	MaxLatencyMs = 2000.0
	MaxRetryProb = 0.5
)

// Clamp enforces the invariant bounds from spec.md §3 in place.
func (s *IssuerState) Clamp() {
	if s.SuccessRate < 0 {
		s.SuccessRate = 0
	} else if s.SuccessRate > 1 {
		s.SuccessRate = 1
	}
	if s.LatencyMs < MinLatencyMs {
		s.LatencyMs = MinLatencyMs
	} else if s.LatencyMs > MaxLatencyMs {
		s.LatencyMs = MaxLatencyMs
	}
	if s.RetryProb < 0 {
		s.RetryProb = 0
	} else if s.RetryProb > MaxRetryProb {
		s.RetryProb = MaxRetryProb
	}
}
