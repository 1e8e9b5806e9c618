package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

func testContext(t *testing.T) *simctx.Context {
	t.Helper()
	cfg := config.Root{}
	cfg.Drift.Theta = 0.1
	cfg.Drift.Sigma = 0.05
	cfg.Drift.MeanSuccess = 0.95
	return simctx.New(cfg, 42, simctx.SystemClock{})
}

// P1: bounds hold after any number of ticks, regardless of seed.
func TestUpdateStaysWithinBounds(t *testing.T) {
	ctx := testContext(t)
	e := New(ctx)
	now := time.Unix(0, 0)

	for i := 0; i < 10_000; i++ {
		e.Update(1.0, now)
		for _, issuer := range types.AllIssuers {
			s := e.Snapshot(issuer)
			require.GreaterOrEqual(t, s.SuccessRate, 0.0)
			require.LessOrEqual(t, s.SuccessRate, 1.0)
			require.GreaterOrEqual(t, s.LatencyMs, types.MinLatencyMs)
			require.LessOrEqual(t, s.LatencyMs, types.MaxLatencyMs)
			require.GreaterOrEqual(t, s.RetryProb, 0.0)
			require.LessOrEqual(t, s.RetryProb, types.MaxRetryProb)
		}
	}
}

// P2: pinning an issuer away from its mean and running long enough
// without further perturbation should pull success rate back toward mu.
func TestUpdateMeanReverts(t *testing.T) {
	ctx := testContext(t)
	e := New(ctx)
	e.Pin(types.IssuerHDFC, 0.3)

	now := time.Unix(0, 0)
	for i := 0; i < 5_000; i++ {
		e.Update(1.0, now)
	}

	s := e.Snapshot(types.IssuerHDFC)
	mu := e.ResolveParams(types.IssuerHDFC).Mu
	assert.InDelta(t, mu, s.SuccessRate, 0.1, "success rate should have reverted close to mu=%v, got %v", mu, s.SuccessRate)
}

func TestUpdateIsDeterministicForSameSeed(t *testing.T) {
	cfg := config.Root{}
	cfg.Drift.Theta = 0.1
	cfg.Drift.Sigma = 0.05
	cfg.Drift.MeanSuccess = 0.95

	ctx1 := simctx.New(cfg, 7, simctx.SystemClock{})
	ctx2 := simctx.New(cfg, 7, simctx.SystemClock{})
	e1 := New(ctx1)
	e2 := New(ctx2)

	now := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		e1.Update(1.0, now)
		e2.Update(1.0, now)
	}

	for _, issuer := range types.AllIssuers {
		s1 := e1.Snapshot(issuer)
		s2 := e2.Snapshot(issuer)
		assert.Equal(t, s1, s2)
	}
}

func TestPerIssuerOverrideApplies(t *testing.T) {
	cfg := config.Root{}
	cfg.Drift.Theta = 0.1
	cfg.Drift.Sigma = 0.05
	cfg.Drift.MeanSuccess = 0.95
	cfg.Drift.PerIssuer = map[string]config.PerIssuerDrift{
		"ICICI": {MeanSuccess: 0.7},
	}
	ctx := simctx.New(cfg, 1, simctx.SystemClock{})
	e := New(ctx)

	assert.Equal(t, 0.7, e.ResolveParams(types.IssuerICICI).Mu)
	assert.Equal(t, 0.95, e.ResolveParams(types.IssuerHDFC).Mu)
}
