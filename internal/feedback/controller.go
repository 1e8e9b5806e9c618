// Package feedback implements the active-intervention list that closes
// the control loop (spec.md §4.B): the policy's decisions flow in here
// as ActiveIntervention entries, and the transaction generator reads
// per-issuer multipliers back out. Grounded on the teacher's
// internal/risk/circuitbreaker.go for the expiry/state-transition idiom
// (a struct owning a slice of timed entries, advanced by an explicit
// tick call rather than background timers) and internal/risk/cooldown.go
// for the "time remaining" / ramp arithmetic.
package feedback

import (
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

// Controller owns the active-intervention list exclusively (spec.md §3
// ownership table). Not safe for concurrent use; the orchestrator is
// the only writer and calls it from the single control-loop goroutine.
type Controller struct {
	active []*types.ActiveIntervention
	nextID int
}

// New returns an empty controller; Restore loads a snapshot's list.
func New() *Controller {
	return &Controller{}
}

// Restore replaces the active list wholesale, used when loading a
// persisted snapshot at startup (spec.md §6 "Persisted state").
func (c *Controller) Restore(interventions []*types.ActiveIntervention) {
	c.active = interventions
}

// Active returns the live intervention list for snapshotting; callers
// must not mutate the returned slice's elements.
func (c *Controller) Active() []*types.ActiveIntervention {
	return c.active
}

// Apply appends a new active intervention derived from a selected
// option (spec.md §4.B "apply(option, now)"). Duration defaults to
// DefaultInterventionDurationMs when the option leaves it unset.
func (c *Controller) Apply(opt types.InterventionOption, now time.Time) *types.ActiveIntervention {
	duration := opt.Parameters.DurationMs
	if duration <= 0 {
		duration = types.DefaultInterventionDurationMs
	}
	nowMs := now.UnixMilli()
	c.nextID++
	ai := &types.ActiveIntervention{
		ID:                 interventionID(c.nextID),
		Type:               opt.Type,
		Target:             opt.Target,
		Parameters:         opt.Parameters,
		StartMs:            nowMs,
		EndMs:              nowMs + duration,
		RollbackConditions: []types.RollbackCondition{types.RollbackSustainedDegradation, types.RollbackMetricRegression},
		Status:             types.StatusActing,
	}
	c.active = append(c.active, ai)
	return ai
}

func interventionID(n int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 0, 12)
	b = append(b, "intv-"...)
	if n == 0 {
		return string(append(b, '0'))
	}
	var digits []byte
	for n > 0 {
		digits = append(digits, hex[n%16])
		n /= 16
	}
	for i := len(digits) - 1; i >= 0; i-- {
		b = append(b, digits[i])
	}
	return string(b)
}

// rampFactor returns the linear interpolation factor in [0,1] for an
// intervention that expired at endMs and is ramping back to neutral
// over RampDuration (spec.md §4.B "tick", §9 Open Question (ii)): 1.0
// immediately after expiry, 0.0 once the ramp completes.
func rampFactor(endMs int64, now time.Time) float64 {
	elapsed := now.Sub(time.UnixMilli(endMs))
	if elapsed <= 0 {
		return 1.0
	}
	if elapsed >= types.RampDuration {
		return 0.0
	}
	return 1.0 - float64(elapsed)/float64(types.RampDuration)
}

// interpolate blends a suppressed multiplier m back toward 1.0 by
// factor f (f=1 → m, f=0 → 1.0).
func interpolate(m, f float64) float64 {
	return m + (1.0-m)*(1.0-f)
}

// SuccessMultiplier composes the ∏ of every active (or ramping)
// intervention's effect on success rate for issuer (spec.md §4.B
// "success_multiplier"). Only SUPPRESS_PATH affects success rate.
// Open Question (i) is resolved as "compose": both success_multiplier
// and volume_multiplier apply together for SUPPRESS_PATH, per
// DESIGN.md.
func (c *Controller) SuccessMultiplier(issuer types.Issuer, now time.Time) float64 {
	m := 1.0
	for _, ai := range c.active {
		if ai.Type != types.InterventionSuppressPath || !targets(ai, issuer) {
			continue
		}
		m *= multiplierFor(ai, 0.1, now)
	}
	return m
}

// VolumeMultiplier composes the ∏ of every active (or ramping)
// intervention's effect on sampling weight for issuer (spec.md §4.B
// "volume_multiplier").
func (c *Controller) VolumeMultiplier(issuer types.Issuer, now time.Time) float64 {
	m := 1.0
	for _, ai := range c.active {
		if !targets(ai, issuer) {
			continue
		}
		switch ai.Type {
		case types.InterventionSuppressPath:
			m *= multiplierFor(ai, 0.1, now)
		case types.InterventionRerouteTraffic:
			m *= multiplierFor(ai, 0.3, now)
		}
	}
	return m
}

// RetryMultiplier composes the ∏ of every active (or ramping)
// intervention's effect on retry probability (spec.md §4.B
// "retry_multiplier"); REDUCE_RETRY_ATTEMPTS is fleet-wide, not scoped
// to a single issuer.
func (c *Controller) RetryMultiplier(now time.Time) float64 {
	m := 1.0
	for _, ai := range c.active {
		if ai.Type != types.InterventionReduceRetryAttempts {
			continue
		}
		ratio := ai.Parameters.RetryReductionRatio
		if ratio <= 0 {
			ratio = 0.5
		}
		m *= multiplierFor(ai, ratio, now)
	}
	return m
}

// multiplierFor returns the base suppression multiplier for an active
// intervention, ramped back toward 1.0 once past EndMs.
func multiplierFor(ai *types.ActiveIntervention, base float64, now time.Time) float64 {
	nowMs := now.UnixMilli()
	if int64(nowMs) < ai.EndMs {
		return base
	}
	return interpolate(base, rampFactor(ai.EndMs, now))
}

func targets(ai *types.ActiveIntervention, issuer types.Issuer) bool {
	return ai.Target == "" || ai.Target == issuer
}

// Tick drops every entry whose ramp has fully completed (spec.md §4.B
// "tick(now): drop every entry with end_ms ≤ now" extended to wait out
// the ramp so generation parameters exactly equal drift-only values
// only once the ramp is done, per P7). Entries mid-ramp are marked
// StatusRamping; on full completion they are simply removed rather than
// retained as StatusExpired, since nothing downstream reads expired
// entries once the ramp is over.
func (c *Controller) Tick(now time.Time) {
	kept := c.active[:0]
	for _, ai := range c.active {
		nowMs := now.UnixMilli()
		if nowMs < ai.EndMs {
			kept = append(kept, ai)
			continue
		}
		if rampFactor(ai.EndMs, now) > 0 {
			ai.Status = types.StatusRamping
			kept = append(kept, ai)
			continue
		}
		ai.Status = types.StatusExpired
		// dropped: fully ramped, no longer retained in the active list.
	}
	c.active = kept
}

// Rollback marks an intervention rolled back and removes it immediately
// (spec.md §4.F "acting→rolled_back"), bypassing the ramp since a
// rollback is a safety action, not a scheduled expiry. With failed set,
// the entry is instead marked StatusRolledBackFailed and kept in the
// active list.
func (c *Controller) Rollback(id string, failed bool) bool {
	for i, ai := range c.active {
		if ai.ID != id {
			continue
		}
		if failed {
			ai.Status = types.StatusRolledBackFailed
			return true
		}
		ai.Status = types.StatusRolledBack
		c.active = append(c.active[:i], c.active[i+1:]...)
		return true
	}
	return false
}

// Suppressed reports, among active interventions, whether issuer is
// currently suppressed — used by the orchestrator scenario tests.
func (c *Controller) Suppressed(issuer types.Issuer, now time.Time) bool {
	return c.SuccessMultiplier(issuer, now) < 1.0
}
