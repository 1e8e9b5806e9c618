// Package drift implements the per-issuer latent-state drift engine
// (spec.md §4.A): an Ornstein-Uhlenbeck step on success rate, a bounded
// Gaussian random walk on latency, and a spike/decay process on retry
// probability. Grounded on the teacher's
// internal/adapters/sim.go SimQuotesAdapter, which owns a single seeded
// *rand.Rand and derives a price movement via
// random.NormFloat64()*volatility each call; here the same idiom drives
// three independent per-issuer processes instead of one price.
package drift

import (
	"math"
	"math/rand"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

// Params are the Ornstein-Uhlenbeck + latency/retry parameters for one
// issuer (spec.md §4.A).
type Params struct {
	Theta float64 // mean reversion
	Sigma float64 // volatility
	Mu    float64 // long-run mean success rate
}

// Engine owns one IssuerState per issuer. It is the sole mutator of
// that state (spec.md §3 ownership table).
type Engine struct {
	rng    *rand.Rand
	states map[types.Issuer]*types.IssuerState
	params map[types.Issuer]Params
}

// New constructs a drift engine from configuration, seeding initial
// issuer states and per-issuer parameter overrides (spec.md §6
// "drift.per_issuer", "issuers").
func New(ctx *simctx.Context) *Engine {
	cfg := ctx.Config
	e := &Engine{
		rng:    ctx.SubStream("drift"),
		states: make(map[types.Issuer]*types.IssuerState, len(types.AllIssuers)),
		params: make(map[types.Issuer]Params, len(types.AllIssuers)),
	}

	base := Params{Theta: cfg.Drift.Theta, Sigma: cfg.Drift.Sigma, Mu: cfg.Drift.MeanSuccess}

	for _, issuer := range types.AllIssuers {
		p := base
		if override, ok := cfg.Drift.PerIssuer[string(issuer)]; ok {
			if override.Theta != 0 {
				p.Theta = override.Theta
			}
			if override.Sigma != 0 {
				p.Sigma = override.Sigma
			}
			if override.MeanSuccess != 0 {
				p.Mu = override.MeanSuccess
			}
		}
		e.params[issuer] = p

		state := &types.IssuerState{
			SuccessRate: base.Mu,
			LatencyMs:   300,
			RetryProb:   0.02,
		}
		if ic, ok := cfg.Issuers[string(issuer)]; ok {
			if ic.InitialSuccess != 0 {
				state.SuccessRate = ic.InitialSuccess
			}
			if ic.InitialLatency != 0 {
				state.LatencyMs = ic.InitialLatency
			}
			state.RetryProb = ic.InitialRetryProb
		}
		if override, ok := cfg.Drift.PerIssuer[string(issuer)]; ok {
			if override.InitialSuccess != 0 {
				state.SuccessRate = override.InitialSuccess
			}
			if override.InitialLatency != 0 {
				state.LatencyMs = override.InitialLatency
			}
		}
		state.Clamp()
		e.states[issuer] = state
	}

	return e
}

// Snapshot returns a read-only copy of one issuer's current state.
func (e *Engine) Snapshot(issuer types.Issuer) types.IssuerState {
	return *e.states[issuer]
}

// All returns read-only copies of every issuer's current state.
func (e *Engine) All() map[types.Issuer]types.IssuerState {
	out := make(map[types.Issuer]types.IssuerState, len(e.states))
	for k, v := range e.states {
		out[k] = *v
	}
	return out
}

// Pin forcibly overrides an issuer's success rate, used by test
// scenarios (spec.md §8 scenario 2 "Pin issuer ICICI success_rate=0.3").
// The drift process continues to run on top of the pinned value on the
// next Update call unless Pin is called again.
func (e *Engine) Pin(issuer types.Issuer, successRate float64) {
	s := e.states[issuer]
	s.SuccessRate = successRate
	s.Clamp()
}

// Update advances every issuer's state by one drift step of duration
// dt (seconds), stamping LastUpdated with now. Deterministic for a
// given seed and dt sequence (spec.md §4.A "Determinism").
func (e *Engine) Update(dt float64, now time.Time) {
	for _, issuer := range types.AllIssuers {
		s := e.states[issuer]
		p := e.params[issuer]

		// Ornstein-Uhlenbeck step on success rate.
		drift := p.Theta * (p.Mu - s.SuccessRate) * dt
		shock := p.Sigma * math.Sqrt(dt) * e.rng.NormFloat64()
		s.SuccessRate += drift + shock

		// Bounded Gaussian random walk on latency.
		s.LatencyMs += e.rng.NormFloat64() * 10 * math.Sqrt(dt)

		// Retry probability: spike or multiplicative decay.
		if e.rng.Float64() < 0.01*dt {
			s.RetryProb += 0.2
		} else {
			s.RetryProb *= 0.99
		}

		s.Clamp()
		s.LastUpdated = now
	}
}

// ResolveParams exposes the effective (post-override) parameters for an
// issuer, used by tests asserting mean-reversion (spec.md P2).
func (e *Engine) ResolveParams(issuer types.Issuer) Params { return e.params[issuer] }
