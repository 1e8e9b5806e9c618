package generator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	driftpkg "github.com/Rajchodisetti/paymentops-agent/internal/drift"
	"github.com/Rajchodisetti/paymentops-agent/internal/feedback"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

func newTestComponents(t *testing.T, bufferSize int) (*Generator, *driftpkg.Engine, *feedback.Controller, *simctx.Context) {
	t.Helper()
	cfg := config.Root{}
	cfg.Drift.Theta = 0.1
	cfg.Drift.Sigma = 0.02
	cfg.Drift.MeanSuccess = 0.95
	cfg.Generator.TransactionRate = 50
	cfg.Generator.BufferSize = bufferSize
	cfg.Generator.PSoft = 0.5
	cfg.Generator.RateSchedule = "constant"

	ctx := simctx.New(cfg, 99, simctx.SystemClock{})
	d := driftpkg.New(ctx)
	fb := feedback.New()
	g := New(ctx)
	return g, d, fb, ctx
}

// P3: buffer size never exceeds capacity; oldest entries drop first.
func TestGenerateRespectsBufferCap(t *testing.T) {
	g, d, fb, _ := newTestComponents(t, 50)
	now := time.Unix(1000, 0)

	for i := 0; i < 20; i++ {
		g.Generate(1.0, now.Add(time.Duration(i)*time.Second), d, fb)
	}

	assert.LessOrEqual(t, g.Buffer().Len(), 50)
}

// P4: consecutive buffered transactions have non-decreasing timestamps.
func TestGenerateProducesMonotonicTimestamps(t *testing.T) {
	g, d, fb, _ := newTestComponents(t, 10_000)
	now := time.Unix(1000, 0)

	for i := 0; i < 30; i++ {
		g.Generate(1.0, now.Add(time.Duration(i)*time.Second), d, fb)
	}

	txns := g.Buffer().Snapshot()
	require.NotEmpty(t, txns)
	for i := 1; i < len(txns); i++ {
		assert.GreaterOrEqual(t, txns[i].TimestampMs, txns[i-1].TimestampMs)
	}
}

// P6: after SUPPRESS_PATH(issuer) is applied, its share of newly
// generated transactions drops sharply.
func TestSuppressPathReducesIssuerShare(t *testing.T) {
	g, d, fb, _ := newTestComponents(t, 10_000)
	now := time.Unix(1000, 0)

	for i := 0; i < 10; i++ {
		g.Generate(1.0, now.Add(time.Duration(i)*time.Second), d, fb)
	}
	preShare := g.IssuerShare(types.IssuerICICI, 0)
	require.Greater(t, preShare, 0.0)

	fb.Apply(types.InterventionOption{
		Type:       types.InterventionSuppressPath,
		Target:     types.IssuerICICI,
		Parameters: types.InterventionParameters{DurationMs: 60_000},
	}, now.Add(10*time.Second))

	for i := 10; i < 30; i++ {
		g.Generate(1.0, now.Add(time.Duration(i)*time.Second), d, fb)
	}
	postShare := g.IssuerShare(types.IssuerICICI, 400)
	assert.LessOrEqual(t, postShare, 0.2*preShare+0.02)
}

func TestGeneratorIsDeterministicForSameSeed(t *testing.T) {
	cfg := config.Root{}
	cfg.Drift.Theta = 0.1
	cfg.Drift.Sigma = 0.02
	cfg.Drift.MeanSuccess = 0.95
	cfg.Generator.TransactionRate = 20
	cfg.Generator.BufferSize = 1000
	cfg.Generator.PSoft = 0.5
	cfg.Generator.RateSchedule = "constant"

	ctx1 := simctx.New(cfg, 123, simctx.SystemClock{})
	ctx2 := simctx.New(cfg, 123, simctx.SystemClock{})
	d1, d2 := driftpkg.New(ctx1), driftpkg.New(ctx2)
	fb1, fb2 := feedback.New(), feedback.New()
	g1, g2 := New(ctx1), New(ctx2)

	now := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		t := now.Add(time.Duration(i) * time.Second)
		d1.Update(1.0, t)
		d2.Update(1.0, t)
		g1.Generate(1.0, t, d1, fb1)
		g2.Generate(1.0, t, d2, fb2)
	}

	assert.Equal(t, g1.Buffer().Snapshot(), g2.Buffer().Snapshot())
}
