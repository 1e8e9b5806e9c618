// Package orchestrator drives the control loop: every coarse tick it
// advances the drift engine and transaction generator; every
// cycle_interval it refreshes the observation window, runs reasoning,
// asks the decision policy, and applies the result to the feedback
// controller (spec.md §4.G, §5). Grounded on the teacher's
// internal/risk/manager.go Start/Stop/monitoringLoop/healthMonitoringLoop
// goroutine-plus-ticker-plus-context-cancellation shape and
// cmd/decision/main.go's top-level polling loop.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/alerts"
	"github.com/Rajchodisetti/paymentops-agent/internal/audit"
	"github.com/Rajchodisetti/paymentops-agent/internal/drift"
	"github.com/Rajchodisetti/paymentops-agent/internal/feedback"
	"github.com/Rajchodisetti/paymentops-agent/internal/generator"
	"github.com/Rajchodisetti/paymentops-agent/internal/observ"
	"github.com/Rajchodisetti/paymentops-agent/internal/policy"
	"github.com/Rajchodisetti/paymentops-agent/internal/reasoning"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/snapshot"
	"github.com/Rajchodisetti/paymentops-agent/internal/telemetry"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
	"github.com/Rajchodisetti/paymentops-agent/internal/window"
)

// DefaultCoarseTick is the wall-clock granularity at which drift and
// generation advance (spec.md §4.G "e.g. 100ms").
const DefaultCoarseTick = 100 * time.Millisecond

// RegressionThreshold is the absolute drop in global success rate
// (0.10 = 10 percentage points) below its value at a tracked
// intervention's apply time at which a rollback fires (spec.md §8
// scenario 5: "regression >= 10%").
const RegressionThreshold = 0.10

// defaultAvgTicketValue seeds the NRV formula's ticket-value input
// until a real revenue feed is wired in (out of scope, spec.md §1).
const defaultAvgTicketValue = 900.0

// Orchestrator owns no domain state itself; it sequences calls across
// the components that do, per the ownership table in spec.md §3.
type Orchestrator struct {
	simCtx   *simctx.Context
	drift    *drift.Engine
	gen      *generator.Generator
	fb       *feedback.Controller
	win      *window.Window
	reasoner *reasoning.Reasoner
	pol      *policy.Policy

	snapStore    *snapshot.Store
	auditLog     *audit.Log
	hub          *telemetry.Hub
	alerter      *alerts.SlackClient
	approvalSink alerts.ApprovalSink

	coarseTick    time.Duration
	cycleInterval time.Duration

	cycleID             int64
	totalGenerated      int64
	ingestedCount       int64
	regressionBaseline  map[string]float64
	successHistory      []float64
	latencyHistory      []float64
	interventionHistory []telemetry.InterventionHistoryEntry

	stopping int32
}

// New wires an orchestrator from already-constructed components. Any
// of hub, alerter may be nil; the orchestrator no-ops the corresponding
// side effect when so.
func New(
	simCtx *simctx.Context,
	driftEngine *drift.Engine,
	gen *generator.Generator,
	fb *feedback.Controller,
	win *window.Window,
	reasoner *reasoning.Reasoner,
	pol *policy.Policy,
	snapStore *snapshot.Store,
	auditLog *audit.Log,
	hub *telemetry.Hub,
	alerter *alerts.SlackClient,
) *Orchestrator {
	cfg := simCtx.Config
	return &Orchestrator{
		simCtx:             simCtx,
		drift:              driftEngine,
		gen:                gen,
		fb:                 fb,
		win:                win,
		reasoner:           reasoner,
		pol:                pol,
		snapStore:          snapStore,
		auditLog:           auditLog,
		hub:                hub,
		alerter:            alerter,
		coarseTick:         DefaultCoarseTick,
		cycleInterval:      time.Duration(cfg.Agent.CycleIntervalSeconds * float64(time.Second)),
		regressionBaseline: make(map[string]float64),
	}
}

// SetApprovalSink wires the narrow human-approval interface
// (spec.md §1 "out of scope... interface mandated"). Optional.
func (o *Orchestrator) SetApprovalSink(sink alerts.ApprovalSink) {
	o.approvalSink = sink
}

// SetCoarseTick overrides the default tick granularity, used by tests.
func (o *Orchestrator) SetCoarseTick(d time.Duration) {
	o.coarseTick = d
}

// Restore seeds the orchestrator and its components from a loaded
// snapshot (spec.md §6 "on start, it restores from the last snapshot
// if present. Never resets state between cycles").
func (o *Orchestrator) Restore(st snapshot.State) {
	o.cycleID = st.CycleCounter
	o.pol.RestoreStreak(st.NoActionStreak)
	o.fb.Restore(st.ActiveInterventions)
	o.win.Restore(snapshot.DecodeBaselines(st.Baselines))
}

// Stop flips the shutdown flag; the loop completes its current cycle,
// persists state, and exits (spec.md §5 "Cancellation/shutdown").
func (o *Orchestrator) Stop() {
	atomic.StoreInt32(&o.stopping, 1)
}

func (o *Orchestrator) stopped() bool {
	return atomic.LoadInt32(&o.stopping) == 1
}

// Run drives the loop until ctx is cancelled, Stop is called, or
// maxDuration of simulated time elapses (maxDuration <= 0 means run
// until externally stopped).
func (o *Orchestrator) Run(ctx context.Context, maxDuration time.Duration) error {
	ticker := time.NewTicker(o.coarseTick)
	defer ticker.Stop()

	timeScale := o.simCtx.Config.Simulation.TimeScale
	if timeScale <= 0 {
		timeScale = 1.0
	}
	dt := o.coarseTick.Seconds() * timeScale

	var elapsedSim time.Duration
	var elapsedSinceCycle time.Duration

	for {
		select {
		case <-ctx.Done():
			o.persist()
			return nil
		case <-ticker.C:
			if o.stopped() {
				o.persist()
				return nil
			}
			now := o.simCtx.Clock.Now()
			o.AdvanceTick(dt, now)

			step := time.Duration(dt * float64(time.Second))
			elapsedSim += step
			elapsedSinceCycle += step
			if elapsedSinceCycle >= o.cycleInterval {
				elapsedSinceCycle = 0
				o.RunCycle(now)
			}

			if maxDuration > 0 && elapsedSim >= maxDuration {
				o.persist()
				return nil
			}
		}
	}
}

// AdvanceTick performs one coarse tick's worth of A.update / C.generate
// (spec.md §4.G). Exposed directly so tests can drive deterministic
// sequences without a real-time ticker.
func (o *Orchestrator) AdvanceTick(dt float64, now time.Time) {
	o.drift.Update(dt, now)
	n := o.gen.Generate(dt, now, o.drift, o.fb)
	o.totalGenerated += int64(n)
}

// RunCycle performs one cycle_interval's worth of D.refresh, E.run,
// F.decide, and applies the result to B, then persists (spec.md §4.G,
// §5 ordering guarantees). Exposed directly for deterministic tests.
func (o *Orchestrator) RunCycle(now time.Time) {
	started := time.Now()
	o.cycleID++

	o.ingestNewTransactions()
	o.win.Refresh(now) // D before E (ordering guarantee 1)
	result := o.reasoner.Run(o.win)

	volume := float64(o.win.Stats(types.GlobalDimension()).Total)
	decision := o.pol.Decide(result, policy.NRVContext{
		AvgTicketValue: defaultAvgTicketValue,
		WindowVolume:   volume,
	})

	o.applyDecision(decision, now) // F before next C (ordering guarantee 2)
	o.checkRollbacks(now)
	o.fb.Tick(now) // expire/ramp before next C (ordering guarantee 3)

	o.writeAudit(decision, now)
	o.recordCycleMetrics(decision, started)
	o.broadcastTelemetry(decision, result, now)
	o.persist()
}

// ingestNewTransactions feeds the window only the transactions
// generated since the last cycle, identified by the cumulative count
// returned from Generate rather than re-ingesting the whole ring
// buffer (which would double-count retained entries across cycles).
func (o *Orchestrator) ingestNewTransactions() {
	all := o.gen.Buffer().Snapshot()
	delta := o.totalGenerated - o.ingestedCount
	if delta > int64(len(all)) {
		delta = int64(len(all))
	}
	if delta > 0 {
		o.win.Ingest(all[int64(len(all))-delta:])
	}
	o.ingestedCount = o.totalGenerated
}

func (o *Orchestrator) applyDecision(d types.Decision, now time.Time) {
	if !d.ShouldAct || d.SelectedOption == nil {
		return
	}

	if d.RequiresHumanApproval {
		observ.IncCounter("decisions_human_escalation_total", nil)
		req := o.alertRequest(d)
		switch {
		case o.approvalSink != nil:
			_ = o.approvalSink.RequestApproval(fmt.Sprintf("cycle-%d", o.cycleID), req)
		case o.alerter != nil:
			o.alerter.SendAlert(req)
		}
		return
	}

	observ.IncCounter("decisions_action_total", nil)
	opt := *d.SelectedOption
	if opt.Type == types.InterventionAlertOps {
		if o.alerter != nil {
			o.alerter.SendAlert(o.alertRequest(d))
		}
		return
	}

	ai := o.fb.Apply(opt, now)
	o.regressionBaseline[ai.ID] = o.win.Stats(types.GlobalDimension()).SuccessRate
	o.interventionHistory = append(o.interventionHistory, telemetry.InterventionHistoryEntry{
		Action: string(opt.Type),
		Reason: d.Rationale,
		TS:     now.UnixMilli(),
		Result: "applied",
		Rate:   o.win.Stats(types.GlobalDimension()).SuccessRate,
	})
	if len(o.interventionHistory) > 20 {
		o.interventionHistory = o.interventionHistory[len(o.interventionHistory)-20:]
	}
}

// checkRollbacks monitors every intervention this orchestrator applied
// for a global success-rate regression since it was applied, and rolls
// it back early when the regression crosses RegressionThreshold
// (spec.md §8 scenario 5). Interventions loaded from a restored
// snapshot have no recorded baseline and are left to expire naturally.
func (o *Orchestrator) checkRollbacks(now time.Time) {
	global := o.win.Stats(types.GlobalDimension())
	for _, ai := range o.fb.Active() {
		baseline, tracked := o.regressionBaseline[ai.ID]
		if !tracked || ai.Status != types.StatusActing {
			continue
		}
		if baseline-global.SuccessRate < RegressionThreshold {
			continue
		}

		o.fb.Rollback(ai.ID, false)
		delete(o.regressionBaseline, ai.ID)
		observ.IncCounter("interventions_rolled_back_total", nil)
		observ.IncCounter("decisions_rolled_back_total", nil)
		observ.Log("intervention_rolled_back", map[string]any{
			"intervention_id": ai.ID,
			"cycle_id":        o.cycleID,
			"baseline":        baseline,
			"current":         global.SuccessRate,
		})
		if err := o.auditLog.Write(audit.Record{
			CycleID:   o.cycleID,
			Timestamp: now,
			Severity:  audit.SeverityHigh,
			Decision: types.Decision{
				PatternFamily: types.PatternNone,
				Rationale:     fmt.Sprintf("rollback: global success regressed from %.3f to %.3f", baseline, global.SuccessRate),
			},
			GuardrailOutcome: string(types.RollbackMetricRegression),
		}); err != nil {
			observ.Log("audit_write_failed", map[string]any{"error": err.Error(), "cycle_id": o.cycleID})
		}
	}
}

func (o *Orchestrator) writeAudit(d types.Decision, now time.Time) {
	sev := audit.SeverityInfo
	outcome := "no_action"
	switch {
	case d.RequiresHumanApproval:
		sev = audit.SeverityWarn
		outcome = "escalated"
	case d.ShouldAct:
		outcome = "applied"
	case d.MinFreqTriggered:
		outcome = "forced_by_min_frequency"
	}

	rec := audit.Record{
		CycleID:          o.cycleID,
		Timestamp:        now,
		Severity:         sev,
		Decision:         d,
		NRV:              d.NRV,
		MinFreqTriggered: d.MinFreqTriggered,
		GuardrailOutcome: outcome,
	}
	if d.SelectedOption != nil {
		opt := *d.SelectedOption
		rec.Option = &opt
	}
	if err := o.auditLog.Write(rec); err != nil {
		observ.Log("audit_write_failed", map[string]any{"error": err.Error(), "cycle_id": o.cycleID})
	}
}

func (o *Orchestrator) recordCycleMetrics(d types.Decision, started time.Time) {
	elapsed := time.Since(started)
	observ.Observe("cycle_processing_seconds", elapsed.Seconds(), nil)
	if o.cycleInterval > 0 && elapsed > o.cycleInterval/2 {
		observ.IncCounter("cycle_overrun_total", nil)
		observ.Log("cycle_overrun", map[string]any{"cycle_id": o.cycleID, "elapsed_ms": elapsed.Milliseconds()})
	}
}

func (o *Orchestrator) broadcastTelemetry(d types.Decision, result reasoning.Result, now time.Time) {
	if o.hub == nil {
		return
	}

	global := o.win.Stats(types.GlobalDimension())
	o.successHistory = append(o.successHistory, global.SuccessRate)
	o.latencyHistory = append(o.latencyHistory, global.P50Latency)
	if len(o.successHistory) > 50 {
		o.successHistory = o.successHistory[len(o.successHistory)-50:]
		o.latencyHistory = o.latencyHistory[len(o.latencyHistory)-50:]
	}

	activeGateway := "all"
	if active := o.fb.Active(); len(active) > 0 && active[0].Target != "" {
		activeGateway = string(active[0].Target)
	}

	confidence := 0.0
	for _, h := range result.Hypotheses {
		if h.Confidence > confidence {
			confidence = h.Confidence
		}
	}

	om := observ.CurrentSafetyMetrics()
	env := telemetry.Envelope{
		Timestamp:     now.UnixMilli(),
		ThinkingLog:   o.thinkingLog(d, result),
		TotalVolume:   global.Total,
		FailRate:      1 - global.SuccessRate,
		ActiveGateway: activeGateway,
		SuccessSeries: append([]float64(nil), o.successHistory...),
		LatencySeries: append([]float64(nil), o.latencyHistory...),
		NRV:           d.NRV,
		Confidence:    confidence,
		InterventionHistory: append([]telemetry.InterventionHistoryEntry(nil),
			o.interventionHistory...),
		SafetyMetrics: telemetry.SafetyMetrics{
			FalsePositiveRate:  om.FalsePositiveRate,
			AvgResponseTimeSec: om.AvgResponseTimeSec,
			RollbackRate:       om.RollbackRate,
			HumanEscalations:   om.HumanEscalations,
		},
	}
	o.hub.Broadcast(env)
}

func (o *Orchestrator) thinkingLog(d types.Decision, result reasoning.Result) []string {
	lines := make([]string, 0, len(result.Hypotheses)+2)
	lines = append(lines, fmt.Sprintf("cycle %d: pattern=%s flags=%d", o.cycleID, result.Pattern, len(result.Flags)))
	for _, h := range result.Hypotheses {
		marker := ""
		if h.Uncertain {
			marker = " (uncertain)"
		}
		lines = append(lines, fmt.Sprintf("hypothesis %s confidence=%.2f%s", h.RootCauseTag, h.Confidence, marker))
	}
	lines = append(lines, d.Rationale)
	return lines
}

func (o *Orchestrator) alertRequest(d types.Decision) alerts.AlertRequest {
	req := alerts.AlertRequest{
		Pattern:   d.PatternFamily,
		Rationale: d.Rationale,
		NRV:       d.NRV,
		Timestamp: o.simCtx.Clock.Now(),
	}
	if d.SelectedOption != nil {
		req.Option = d.SelectedOption.Type
		req.Target = d.SelectedOption.Target
	}
	return req
}

// persist writes a snapshot of cross-restart state after every cycle
// (spec.md §4.G, §6 "Persisted state"). A write failure is logged and
// the in-memory state kept, retried on the next cycle (spec.md §7).
func (o *Orchestrator) persist() {
	if o.snapStore == nil {
		return
	}
	st := snapshot.State{
		Seed:                o.simCtx.Seed(),
		CycleCounter:        o.cycleID,
		NoActionStreak:      o.pol.NoActionStreak(),
		ActiveInterventions: o.fb.Active(),
		Baselines:           snapshot.EncodeBaselines(o.win.Snapshot()),
	}
	if err := o.snapStore.Save(st); err != nil {
		observ.Log("snapshot_write_failed", map[string]any{"error": err.Error(), "cycle_id": o.cycleID})
	}
}

// CycleID exposes the current cycle counter, used by cmd/agent's
// shutdown logging and by tests.
func (o *Orchestrator) CycleID() int64 { return o.cycleID }
