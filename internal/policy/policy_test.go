package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/reasoning"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
	"github.com/Rajchodisetti/paymentops-agent/internal/window"
)

func baseConfig() Config {
	return Config{
		MaxRetryAdjustment:        0.5,
		MaxSuppressionDurationMs:  30 * 60 * 1000,
		ProtectedTargets:          map[types.Issuer]bool{},
		MaxBlastRadiusForAutonomy: 0.4,
		MinConfidenceForAction:    0.6,
		MinActionFrequencyCycles:  6,
	}
}

func outageResult() reasoning.Result {
	return reasoning.Result{
		Pattern: types.PatternIssuerOutage,
		Flags: []reasoning.Flag{
			{Dimension: types.IssuerDimension(types.IssuerICICI), Z: window.ZScores{Success: -3.0}, Stats: window.Stats{Total: 60, SuccessRate: 0.3}},
		},
		Hypotheses: []types.Hypothesis{{Confidence: 0.8}},
	}
}

func noPatternResult() reasoning.Result {
	return reasoning.Result{Pattern: types.PatternNone}
}

func TestDecideActsOnPositiveNRV(t *testing.T) {
	p := New(baseConfig())
	d := p.Decide(outageResult(), NRVContext{AvgTicketValue: 900, WindowVolume: 5000})

	require.True(t, d.ShouldAct)
	require.NotNil(t, d.SelectedOption)
	assert.Equal(t, types.InterventionSuppressPath, d.SelectedOption.Type)
	assert.Equal(t, 0, p.NoActionStreak())
}

// P9: when the minimum-frequency rule does not fire, the chosen option
// has the maximum NRV over the admissible set.
func TestDecidePicksMaximumNRV(t *testing.T) {
	p := New(baseConfig())
	d := p.Decide(outageResult(), NRVContext{AvgTicketValue: 900, WindowVolume: 5000})
	require.True(t, d.ShouldAct)

	maxNRV := d.NRV
	for _, alt := range d.Alternatives {
		assert.GreaterOrEqual(t, maxNRV, computeNRV(alt))
	}
}

func TestGuardrailRejectsProtectedTarget(t *testing.T) {
	cfg := baseConfig()
	cfg.ProtectedTargets[types.IssuerICICI] = true
	p := New(cfg)

	d := p.Decide(outageResult(), NRVContext{AvgTicketValue: 900, WindowVolume: 5000})
	// suppress_path on ICICI is blocked; alert_ops remains admissible
	// but nrv<=0, so with a fresh streak this cycle is NO-ACTION.
	assert.False(t, d.ShouldAct)
	for _, alt := range d.Alternatives {
		assert.NotEqual(t, types.IssuerICICI, alt.Target)
	}
}

func TestBlastRadiusAboveThresholdRequiresApprovalAtLowConfidence(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxBlastRadiusForAutonomy = 0.1 // below suppress_path's 0.25 blast radius
	cfg.MinConfidenceForAction = 0.9    // above the 0.8 confidence in outageResult
	p := New(cfg)

	d := p.Decide(outageResult(), NRVContext{AvgTicketValue: 900, WindowVolume: 5000})
	require.True(t, d.ShouldAct)
	assert.True(t, d.RequiresHumanApproval)
}

// P8: in any window of N+1 consecutive cycles, at least one is ACTION.
func TestMinimumActionFrequencyForcesActionEvery6thCycle(t *testing.T) {
	cfg := baseConfig()
	cfg.MinActionFrequencyCycles = 6
	p := New(cfg)

	actsAt := map[int]bool{}
	for cycle := 1; cycle <= 12; cycle++ {
		d := p.Decide(noPatternResult(), NRVContext{AvgTicketValue: 900, WindowVolume: 5000})
		if d.ShouldAct {
			actsAt[cycle] = true
		}
	}

	assert.True(t, actsAt[6])
	assert.True(t, actsAt[12])
	// no more than 5 consecutive NO-ACTION cycles anywhere in the run.
	streak := 0
	for cycle := 1; cycle <= 12; cycle++ {
		if actsAt[cycle] {
			streak = 0
			continue
		}
		streak++
		require.LessOrEqual(t, streak, 5)
	}
}

func TestMinimumFrequencySynthesisesAlertOpsWhenNoPattern(t *testing.T) {
	cfg := baseConfig()
	cfg.MinActionFrequencyCycles = 6
	p := New(cfg)

	var last types.Decision
	for cycle := 1; cycle <= 6; cycle++ {
		last = p.Decide(noPatternResult(), NRVContext{AvgTicketValue: 900, WindowVolume: 5000})
	}

	require.True(t, last.ShouldAct)
	require.True(t, last.MinFreqTriggered)
	require.NotNil(t, last.SelectedOption)
	assert.Equal(t, types.InterventionAlertOps, last.SelectedOption.Type)
	assert.Equal(t, 0.0, last.SelectedOption.BlastRadius)
}
