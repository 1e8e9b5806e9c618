package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/audit"
	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	"github.com/Rajchodisetti/paymentops-agent/internal/drift"
	"github.com/Rajchodisetti/paymentops-agent/internal/feedback"
	"github.com/Rajchodisetti/paymentops-agent/internal/generator"
	"github.com/Rajchodisetti/paymentops-agent/internal/policy"
	"github.com/Rajchodisetti/paymentops-agent/internal/reasoning"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/snapshot"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
	"github.com/Rajchodisetti/paymentops-agent/internal/window"
)

// fakeClock lets tests advance simulated wall-clock time deterministically.
type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func baseAgentConfig() config.Agent {
	return config.Agent{
		CycleIntervalSeconds:      8,
		WindowDurationMs:          5 * 60 * 1000,
		AnomalyThreshold:          2.0,
		MinActionFrequencyCycles:  6,
		MinConfidenceForAction:    0.6,
		MaxBlastRadiusForAutonomy: 0.4,
		MaxRetryAdjustment:        0.5,
		MaxSuppressionDurationMs:  30 * 60 * 1000,
		BaselineAlpha:             0.2,
		MinSampleSize:             50,
		TauUncertain:              0.5,
		LatencySLAMs:              900,
	}
}

// testComponents wires a full orchestrator from scratch with a fake
// clock and a fast-forward-friendly coarse tick, writing snapshot and
// audit files under t.TempDir().
func testComponents(t *testing.T, agentCfg config.Agent) (*Orchestrator, *fakeClock) {
	t.Helper()

	root := config.Root{
		Drift:      config.Drift{Theta: 0.1, Sigma: 0.02, MeanSuccess: 0.95},
		Generator:  config.Generator{TransactionRate: 40, BufferSize: 2000, PSoft: 0.5, RateSchedule: "constant"},
		Agent:      agentCfg,
		Simulation: config.Simulation{TimeScale: 1.0},
	}

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	simCtx := simctx.New(root, 7, clock)

	driftEngine := drift.New(simCtx)
	gen := generator.New(simCtx)
	fb := feedback.New()
	win := window.New(time.Duration(agentCfg.WindowDurationMs)*time.Millisecond, agentCfg.BaselineAlpha, agentCfg.MinSampleSize)
	reasoner := reasoning.New(agentCfg.AnomalyThreshold, agentCfg.TauUncertain, agentCfg.LatencySLAMs)
	pol := policy.New(policy.Config{
		MaxRetryAdjustment:        agentCfg.MaxRetryAdjustment,
		MaxSuppressionDurationMs:  agentCfg.MaxSuppressionDurationMs,
		ProtectedTargets:          map[types.Issuer]bool{},
		MaxBlastRadiusForAutonomy: agentCfg.MaxBlastRadiusForAutonomy,
		MinConfidenceForAction:    agentCfg.MinConfidenceForAction,
		MinActionFrequencyCycles:  agentCfg.MinActionFrequencyCycles,
	})

	dir := t.TempDir()
	snapStore := snapshot.NewStore(filepath.Join(dir, "snapshot.json"))
	auditLog, err := audit.New(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)

	o := New(simCtx, driftEngine, gen, fb, win, reasoner, pol, snapStore, auditLog, nil, nil)
	o.SetCoarseTick(100 * time.Millisecond)
	return o, clock
}

// runCycles advances the coarse tick enough to cover n cycle intervals,
// calling AdvanceTick/RunCycle directly so the test does not depend on
// wall-clock time or a live ticker.
func runCycles(o *Orchestrator, clock *fakeClock, n int) {
	dt := o.coarseTick.Seconds()
	ticksPerCycle := int(o.cycleInterval / o.coarseTick)
	for c := 0; c < n; c++ {
		for i := 0; i < ticksPerCycle; i++ {
			clock.Advance(o.coarseTick)
			o.AdvanceTick(dt, clock.now)
		}
		o.RunCycle(clock.now)
	}
}

// Scenario 1 (spec.md §8): healthy idle traffic with no anomaly forces
// an ACTION every 6th cycle via the minimum-action-frequency rule.
func TestHealthyIdleForcesMinimumFrequencyAction(t *testing.T) {
	cfg := baseAgentConfig()
	cfg.MinActionFrequencyCycles = 6
	o, clock := testComponents(t, cfg)

	actedAt := map[int]bool{}
	for cycle := 1; cycle <= 12; cycle++ {
		runCycles(o, clock, 1)
		if o.pol.NoActionStreak() == 0 {
			actedAt[cycle] = true
		}
	}

	assert.True(t, actedAt[6])
	assert.True(t, actedAt[12])
}

// Scenario 2 (spec.md §8): pinning one issuer's success rate low should
// eventually raise an issuer_outage pattern, select suppress_path, and
// leave that issuer suppressed in the feedback controller's live list.
func TestSingleIssuerOutageAppliesSuppression(t *testing.T) {
	cfg := baseAgentConfig()
	o, clock := testComponents(t, cfg)

	// warm the baseline under healthy conditions first so the window has
	// enough samples to clear the minimum-sample gate.
	runCycles(o, clock, 10)

	o.drift.Pin(types.IssuerICICI, 0.3)
	suppressed := false
	for i := 0; i < 5; i++ {
		runCycles(o, clock, 1)
		o.drift.Pin(types.IssuerICICI, 0.3) // hold the pin against the OU step each cycle
		if o.fb.Suppressed(types.IssuerICICI, clock.now) {
			suppressed = true
			break
		}
	}

	assert.True(t, suppressed, "expected suppress_path on ICICI to be applied within 5 cycles of a pinned outage")
}

func TestRunCycleWritesAuditAndSnapshotEveryCycle(t *testing.T) {
	cfg := baseAgentConfig()
	o, clock := testComponents(t, cfg)

	runCycles(o, clock, 1)
	assert.Equal(t, int64(1), o.CycleID())

	st, ok, err := o.snapStore.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), st.CycleCounter)
	assert.Equal(t, o.simCtx.Seed(), st.Seed)
}

func TestRestoreReappliesPersistedState(t *testing.T) {
	cfg := baseAgentConfig()
	o, clock := testComponents(t, cfg)
	runCycles(o, clock, 7)

	st, ok, err := o.snapStore.Load()
	require.NoError(t, err)
	require.True(t, ok)

	o2, _ := testComponents(t, cfg)
	o2.Restore(st)
	assert.Equal(t, st.CycleCounter, o2.CycleID())
	assert.Equal(t, st.NoActionStreak, o2.pol.NoActionStreak())
}

func TestIngestNewTransactionsNeverDoubleCounts(t *testing.T) {
	cfg := baseAgentConfig()
	o, clock := testComponents(t, cfg)

	runCycles(o, clock, 3)
	assert.Equal(t, o.totalGenerated, o.ingestedCount)
}
