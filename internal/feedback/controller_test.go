package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

func TestApplyThenMultipliersReflectSuppression(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	c.Apply(types.InterventionOption{
		Type:   types.InterventionSuppressPath,
		Target: types.IssuerICICI,
	}, now)

	assert.InDelta(t, 0.1, c.SuccessMultiplier(types.IssuerICICI, now), 1e-9)
	assert.InDelta(t, 0.1, c.VolumeMultiplier(types.IssuerICICI, now), 1e-9)
	assert.Equal(t, 1.0, c.SuccessMultiplier(types.IssuerHDFC, now))
}

func TestRerouteTrafficAffectsVolumeOnly(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	c.Apply(types.InterventionOption{
		Type:   types.InterventionRerouteTraffic,
		Target: types.IssuerAxis,
	}, now)

	assert.Equal(t, 1.0, c.SuccessMultiplier(types.IssuerAxis, now))
	assert.InDelta(t, 0.3, c.VolumeMultiplier(types.IssuerAxis, now), 1e-9)
}

func TestReduceRetryAttemptsIsFleetWide(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	c.Apply(types.InterventionOption{
		Type:       types.InterventionReduceRetryAttempts,
		Parameters: types.InterventionParameters{RetryReductionRatio: 0.5},
	}, now)

	assert.InDelta(t, 0.5, c.RetryMultiplier(now), 1e-9)
}

func TestMultipliersComposeAcrossOverlappingInterventions(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	c.Apply(types.InterventionOption{Type: types.InterventionSuppressPath, Target: types.IssuerICICI}, now)
	c.Apply(types.InterventionOption{Type: types.InterventionRerouteTraffic, Target: types.IssuerICICI}, now)

	// both affect volume for ICICI: 0.1 * 0.3 = 0.03
	assert.InDelta(t, 0.03, c.VolumeMultiplier(types.IssuerICICI, now), 1e-9)
}

// P7: after end_ms, multipliers revert to 1.0 within at most the ramp
// window, and generation parameters exactly equal drift-only values
// (multiplier == 1.0) once the ramp is fully elapsed.
func TestExpirationRampsBackToNeutral(t *testing.T) {
	c := New()
	start := time.Unix(1000, 0)
	ai := c.Apply(types.InterventionOption{
		Type:       types.InterventionSuppressPath,
		Target:     types.IssuerICICI,
		Parameters: types.InterventionParameters{DurationMs: 1000},
	}, start)
	require.Equal(t, start.UnixMilli()+1000, ai.EndMs)

	atExpiry := time.UnixMilli(ai.EndMs)
	mid := atExpiry.Add(types.RampDuration / 2)
	afterRamp := atExpiry.Add(types.RampDuration + time.Second)

	// immediately after expiry, still fully suppressed.
	assert.InDelta(t, 0.1, c.SuccessMultiplier(types.IssuerICICI, atExpiry), 1e-9)

	// midway through the ramp, halfway back to 1.0.
	mVal := c.SuccessMultiplier(types.IssuerICICI, mid)
	assert.Greater(t, mVal, 0.1)
	assert.Less(t, mVal, 1.0)

	// fully ramped: multiplier is neutral.
	assert.Equal(t, 1.0, c.SuccessMultiplier(types.IssuerICICI, afterRamp))

	c.Tick(afterRamp)
	assert.Empty(t, c.Active())
}

func TestTickDropsOnlyFullyRampedEntries(t *testing.T) {
	c := New()
	start := time.Unix(1000, 0)
	ai := c.Apply(types.InterventionOption{
		Type:       types.InterventionSuppressPath,
		Target:     types.IssuerICICI,
		Parameters: types.InterventionParameters{DurationMs: 1000},
	}, start)

	mid := time.UnixMilli(ai.EndMs).Add(types.RampDuration / 2)
	c.Tick(mid)
	require.Len(t, c.Active(), 1)
	assert.Equal(t, types.StatusRamping, c.Active()[0].Status)

	done := time.UnixMilli(ai.EndMs).Add(types.RampDuration + time.Second)
	c.Tick(done)
	assert.Empty(t, c.Active())
}

func TestRollbackRemovesImmediatelyWithoutRamp(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	ai := c.Apply(types.InterventionOption{Type: types.InterventionSuppressPath, Target: types.IssuerSBI}, now)

	ok := c.Rollback(ai.ID, false)
	require.True(t, ok)
	assert.Empty(t, c.Active())
}

func TestRollbackFailedKeepsEntryMarked(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	ai := c.Apply(types.InterventionOption{Type: types.InterventionSuppressPath, Target: types.IssuerSBI}, now)

	ok := c.Rollback(ai.ID, true)
	require.True(t, ok)
	require.Len(t, c.Active(), 1)
	assert.Equal(t, types.StatusRolledBackFailed, c.Active()[0].Status)
}

func TestRestoreReplacesActiveList(t *testing.T) {
	c := New()
	restored := []*types.ActiveIntervention{
		{ID: "intv-1", Type: types.InterventionAlertOps, Status: types.StatusActing, EndMs: 5000},
	}
	c.Restore(restored)
	assert.Len(t, c.Active(), 1)
}
