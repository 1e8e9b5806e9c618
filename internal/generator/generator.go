// Package generator implements the continuous transaction generator
// (spec.md §4.C): each tick it emits transactions whose issuer mix,
// outcome, retry count, and latency are drawn from the drift engine's
// per-issuer state modulated by the feedback controller's multipliers,
// then pushed into a bounded ring buffer. Grounded on the teacher's
// internal/adapters/sim.go SimQuotesAdapter (seeded *rand.Rand field,
// tick-based emission) and internal/outbox/outbox.go for the
// bounded-buffer-with-drop idiom.
package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/paymentops-agent/internal/drift"
	"github.com/Rajchodisetti/paymentops-agent/internal/feedback"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

const maxRetryCap = 10

// RateSchedule is the closed set of traffic-shape functions the
// generator's rate may follow (spec.md §4.C "Rate may follow
// constant/sinusoidal/burst schedules").
type RateSchedule string

const (
	ScheduleConstant   RateSchedule = "constant"
	ScheduleSinusoidal RateSchedule = "sinusoidal"
	ScheduleBurst      RateSchedule = "burst"
)

// Buffer is a fixed-capacity ring buffer of transactions; on overflow
// the oldest entry is dropped (spec.md §4.C, P3).
type Buffer struct {
	data []types.Transaction
	cap  int
	head int
	size int
}

func newBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]types.Transaction, capacity), cap: capacity}
}

func (b *Buffer) push(t types.Transaction) {
	idx := (b.head + b.size) % b.cap
	if b.size < b.cap {
		b.data[idx] = t
		b.size++
		return
	}
	// full: overwrite oldest slot and advance head.
	b.data[b.head] = t
	b.head = (b.head + 1) % b.cap
}

// Len reports the number of transactions currently retained.
func (b *Buffer) Len() int { return b.size }

// Snapshot returns transactions in insertion order (oldest first); the
// returned slice is a fresh copy safe for the caller to retain.
func (b *Buffer) Snapshot() []types.Transaction {
	out := make([]types.Transaction, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.head+i)%b.cap]
	}
	return out
}

// Generator owns the bounded transaction buffer (spec.md §3 ownership
// table) and emits new transactions each tick by reading, but never
// mutating, the drift engine and feedback controller.
type Generator struct {
	rng         *rand.Rand
	buf         *Buffer
	rate        float64
	schedule    RateSchedule
	pSoft       float64
	methodMix   map[types.Method]float64
	baseWeights map[types.Issuer]float64
	lastTsMs    int64
	elapsed     float64
	fractional  float64
}

// New constructs a generator from configuration.
func New(ctx *simctx.Context) *Generator {
	cfg := ctx.Config.Generator

	mix := make(map[types.Method]float64, len(types.AllMethods))
	for _, m := range types.AllMethods {
		if w, ok := cfg.MethodMix[string(m)]; ok {
			mix[m] = w
		}
	}
	if len(mix) == 0 {
		mix = map[types.Method]float64{types.MethodCard: 0.5, types.MethodUPI: 0.35, types.MethodWallet: 0.15}
	}

	base := make(map[types.Issuer]float64, len(types.AllIssuers))
	for _, i := range types.AllIssuers {
		base[i] = 1.0 / float64(len(types.AllIssuers))
	}

	return &Generator{
		rng:         ctx.SubStream("generator"),
		buf:         newBuffer(cfg.BufferSize),
		rate:        cfg.TransactionRate,
		schedule:    RateSchedule(cfg.RateSchedule),
		pSoft:       cfg.PSoft,
		methodMix:   mix,
		baseWeights: base,
	}
}

// Buffer exposes the underlying ring buffer for observation reads.
func (g *Generator) Buffer() *Buffer { return g.buf }

// effectiveRate applies the configured schedule to the base rate at
// elapsed simulation time t (seconds since generator start).
func (g *Generator) effectiveRate(t float64) float64 {
	switch g.schedule {
	case ScheduleSinusoidal:
		return g.rate * (1 + 0.5*math.Sin(2*math.Pi*t/60))
	case ScheduleBurst:
		if math.Mod(t, 30) < 5 {
			return g.rate * 3
		}
		return g.rate * 0.5
	default:
		return g.rate
	}
}

// Generate advances the generator by dt seconds, emitting
// ⌊rate·dt⌋ transactions (spec.md §4.C), where rate follows the
// configured schedule and the fractional remainder of rate·dt is
// carried into the next call. now is the tick-start wall
// time; drift and fb are read-only inputs this component never
// mutates.
func (g *Generator) Generate(dt float64, now time.Time, drift *drift.Engine, fb *feedback.Controller) int {
	rate := g.effectiveRate(g.elapsed)
	g.elapsed += dt

	g.fractional += rate * dt
	count := int(math.Floor(g.fractional))
	g.fractional -= float64(count)

	tickStartMs := now.UnixMilli()
	for i := 0; i < count; i++ {
		issuer := g.sampleIssuer(fb, now)
		method := g.sampleMethod()
		state := drift.Snapshot(issuer)

		p := state.SuccessRate * fb.SuccessMultiplier(issuer, now)
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		r := state.RetryProb * fb.RetryMultiplier(now)

		outcome := g.sampleOutcome(p)
		retries := g.sampleRetries(r)
		latency := g.sampleLatency(state.LatencyMs)

		jitterMs := int64(float64(i) * (dt * 1000 / float64(count+1)))
		ts := tickStartMs + jitterMs
		if ts < g.lastTsMs {
			ts = g.lastTsMs
		}
		g.lastTsMs = ts

		txn := types.Transaction{
			ID:          uuid.NewString(),
			TimestampMs: ts,
			Issuer:      issuer,
			Method:      method,
			Outcome:     outcome,
			LatencyMs:   latency,
			RetryCount:  retries,
			Amount:      g.sampleAmount(),
		}
		if outcome == types.OutcomeHardFail {
			txn.ErrorCode = "E_HARD_DECLINE"
		} else if outcome == types.OutcomeSoftFail {
			txn.ErrorCode = "E_SOFT_DECLINE"
		}
		g.buf.push(txn)
	}
	return count
}

// IssuerShare reports, over the most recently buffered n transactions
// (or the whole buffer if smaller), the fraction attributed to issuer.
// Used by tests to assert P6.
func (g *Generator) IssuerShare(issuer types.Issuer, n int) float64 {
	all := g.buf.Snapshot()
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	if len(all) == 0 {
		return 0
	}
	count := 0
	for _, t := range all {
		if t.Issuer == issuer {
			count++
		}
	}
	return float64(count) / float64(len(all))
}

func (g *Generator) sampleIssuer(fb *feedback.Controller, now time.Time) types.Issuer {
	weights := make([]float64, len(types.AllIssuers))
	total := 0.0
	for i, issuer := range types.AllIssuers {
		w := g.baseWeights[issuer] * fb.VolumeMultiplier(issuer, now)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return types.AllIssuers[g.rng.Intn(len(types.AllIssuers))]
	}
	r := g.rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return types.AllIssuers[i]
		}
	}
	return types.AllIssuers[len(types.AllIssuers)-1]
}

func (g *Generator) sampleMethod() types.Method {
	total := 0.0
	for _, w := range g.methodMix {
		total += w
	}
	r := g.rng.Float64() * total
	acc := 0.0
	for _, m := range types.AllMethods {
		acc += g.methodMix[m]
		if r < acc {
			return m
		}
	}
	return types.AllMethods[len(types.AllMethods)-1]
}

func (g *Generator) sampleOutcome(p float64) types.Outcome {
	u := g.rng.Float64()
	if u < p {
		return types.OutcomeSuccess
	}
	if g.rng.Float64() < g.pSoft {
		return types.OutcomeSoftFail
	}
	return types.OutcomeHardFail
}

// sampleRetries draws a geometric count with success probability
// (1-r) per attempt, capped at maxRetryCap (spec.md §4.C.4).
func (g *Generator) sampleRetries(r float64) int {
	if r <= 0 {
		return 0
	}
	count := 0
	for count < maxRetryCap && g.rng.Float64() < r {
		count++
	}
	return count
}

// sampleLatency draws from a Gaussian centred on center with a fixed
// coefficient of variation of 0.25, clipped below at MinLatencyMs
// (spec.md §4.C.5). The coefficient is not read from configuration.
func (g *Generator) sampleLatency(center float64) float64 {
	const cv = 0.25
	l := center + g.rng.NormFloat64()*center*cv
	if l < types.MinLatencyMs {
		l = types.MinLatencyMs
	}
	return l
}

func (g *Generator) sampleAmount() float64 {
	// Half-normal ticket size starting at 100 (mean about 740); not
	// read by the NRV math, which uses a fixed average ticket value.
	return 100 + math.Abs(g.rng.NormFloat64())*800
}
