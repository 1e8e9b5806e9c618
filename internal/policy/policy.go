// Package policy implements the decision policy: option generation,
// NRV ranking, guardrail gating, and the minimum-action-frequency rule
// (spec.md §4.F). Grounded on the teacher's internal/risk/manager.go
// RiskGate/EvaluateDecision priority-ordered gate pipeline for the
// guardrail idiom, and internal/decision/engine.go's weighted-sum
// scoring for the NRV ranking idiom.
package policy

import (
	"fmt"
	"sort"

	"github.com/Rajchodisetti/paymentops-agent/internal/reasoning"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

// Config bundles the guardrail thresholds the policy enforces (spec.md
// §4.F "Guardrails" and §6 agent config keys).
type Config struct {
	MaxRetryAdjustment        float64
	MaxSuppressionDurationMs  int64
	ProtectedTargets          map[types.Issuer]bool
	MaxBlastRadiusForAutonomy float64
	MinConfidenceForAction    float64
	MinActionFrequencyCycles  int
}

// Policy holds the only cross-cycle mutable policy state: the
// consecutive-no-action counter (spec.md §9 "Cycle-counter coupling").
type Policy struct {
	cfg            Config
	noActionStreak int
}

// New constructs a policy with the given guardrail configuration.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// NoActionStreak exposes the counter for snapshotting.
func (p *Policy) NoActionStreak() int { return p.noActionStreak }

// RestoreStreak sets the counter from a loaded snapshot.
func (p *Policy) RestoreStreak(n int) { p.noActionStreak = n }

// context the NRV formula needs beyond the option itself (spec.md
// §4.F "NRV calculation").
type NRVContext struct {
	AvgTicketValue float64
	WindowVolume   float64
}

// computeNRV applies the declared formula (spec.md §4.F).
func computeNRV(opt types.InterventionOption) float64 {
	lift := opt.ExpectedOutcome.ExpectedSuccessLift * opt.ExpectedOutcome.AvgTicketValue * opt.ExpectedOutcome.WindowVolume
	return lift - opt.Tradeoffs.InterventionCost - opt.Tradeoffs.LatencyPenalty - opt.Tradeoffs.RiskPenalty
}

// GenerateOptions enumerates candidate interventions for the active
// pattern (spec.md §4.F "Option generation"). alert_ops is always
// admissible regardless of pattern.
func GenerateOptions(result reasoning.Result, ctx NRVContext) []types.InterventionOption {
	var opts []types.InterventionOption
	conf := bestConfidence(result.Hypotheses)

	switch result.Pattern {
	case types.PatternIssuerOutage, types.PatternIssuerDegradation:
		if issuer, ok := worstIssuer(result.Flags); ok {
			opts = append(opts, types.InterventionOption{
				Type:   types.InterventionSuppressPath,
				Target: issuer,
				Parameters: types.InterventionParameters{
					DurationMs: types.DefaultInterventionDurationMs,
				},
				ExpectedOutcome: types.ExpectedOutcome{ExpectedSuccessLift: 0.25 * conf, AvgTicketValue: ctx.AvgTicketValue, WindowVolume: ctx.WindowVolume},
				Tradeoffs:       types.Tradeoffs{InterventionCost: 50, LatencyPenalty: 0, RiskPenalty: 20},
				Reversible:      true,
				BlastRadius:     0.25,
			})
		}
	case types.PatternRetryStorm:
		opts = append(opts, types.InterventionOption{
			Type: types.InterventionReduceRetryAttempts,
			Parameters: types.InterventionParameters{
				DurationMs:          types.DefaultInterventionDurationMs,
				RetryReductionRatio: 0.5,
			},
			ExpectedOutcome: types.ExpectedOutcome{ExpectedSuccessLift: 0.1 * conf, AvgTicketValue: ctx.AvgTicketValue, WindowVolume: ctx.WindowVolume},
			Tradeoffs:       types.Tradeoffs{InterventionCost: 10, LatencyPenalty: 5, RiskPenalty: 5},
			Reversible:      true,
			BlastRadius:     0.15,
		})
	case types.PatternLatencySpike:
		if issuer, ok := worstIssuer(result.Flags); ok {
			opts = append(opts, types.InterventionOption{
				Type:   types.InterventionRerouteTraffic,
				Target: issuer,
				Parameters: types.InterventionParameters{
					DurationMs: types.DefaultInterventionDurationMs,
				},
				ExpectedOutcome: types.ExpectedOutcome{ExpectedSuccessLift: 0.08 * conf, AvgTicketValue: ctx.AvgTicketValue, WindowVolume: ctx.WindowVolume},
				Tradeoffs:       types.Tradeoffs{InterventionCost: 30, LatencyPenalty: 10, RiskPenalty: 10},
				Reversible:      true,
				BlastRadius:     0.3,
			})
		}
	case types.PatternMethodFatigue, types.PatternSystemicFailure, types.PatternLocalizedFailure:
		// no targeted intervention type fits these domains cleanly;
		// alert_ops (added below) is the admissible response.
	}

	opts = append(opts, types.InterventionOption{
		Type:            types.InterventionAlertOps,
		ExpectedOutcome: types.ExpectedOutcome{},
		Tradeoffs:       types.Tradeoffs{InterventionCost: 1},
		Reversible:      true,
		BlastRadius:     0,
	})

	for i := range opts {
		opts[i].ExpectedOutcome.WindowVolume = ctx.WindowVolume
	}
	return opts
}

func bestConfidence(hyps []types.Hypothesis) float64 {
	best := 0.0
	for _, h := range hyps {
		if h.Confidence > best {
			best = h.Confidence
		}
	}
	return best
}

func worstIssuer(flags []reasoning.Flag) (types.Issuer, bool) {
	worst := 0.0
	var target types.Issuer
	found := false
	for _, f := range flags {
		if f.Dimension.Kind != "issuer" {
			continue
		}
		if z := -f.Z.Success; z > worst {
			worst = z
			target = types.Issuer(f.Dimension.Value)
			found = true
		}
	}
	return target, found
}

// guardrailOutcome describes whether an option cleared the guardrail
// pipeline and, if not, why.
type guardrailOutcome struct {
	admissible       bool
	requiresApproval bool
	reason           string
}

// evaluateGuardrails applies the pre-mortem checks (spec.md §4.F
// "Guardrails (pre-mortem)").
func (p *Policy) evaluateGuardrails(opt types.InterventionOption, confidence float64) guardrailOutcome {
	if p.cfg.ProtectedTargets[opt.Target] {
		return guardrailOutcome{admissible: false, reason: fmt.Sprintf("target %s is protected", opt.Target)}
	}
	if opt.Parameters.RetryReductionRatio > p.cfg.MaxRetryAdjustment && p.cfg.MaxRetryAdjustment > 0 {
		return guardrailOutcome{admissible: false, reason: "retry adjustment exceeds max_retry_adjustment"}
	}
	if p.cfg.MaxSuppressionDurationMs > 0 && opt.Parameters.DurationMs > p.cfg.MaxSuppressionDurationMs && opt.Type == types.InterventionSuppressPath {
		return guardrailOutcome{admissible: false, reason: "suppression duration exceeds max_suppression_duration_ms"}
	}
	if opt.BlastRadius > p.cfg.MaxBlastRadiusForAutonomy && confidence < p.cfg.MinConfidenceForAction {
		return guardrailOutcome{admissible: true, requiresApproval: true, reason: "blast radius exceeds autonomy threshold at low confidence"}
	}
	return guardrailOutcome{admissible: true}
}

// rank orders admissible options by descending NRV, then reversible
// before non-reversible, then smaller blast_radius (spec.md §4.F
// "Ranking").
func rank(opts []types.InterventionOption, nrv map[int]float64) []int {
	idx := make([]int, len(opts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if nrv[ia] != nrv[ib] {
			return nrv[ia] > nrv[ib]
		}
		if opts[ia].Reversible != opts[ib].Reversible {
			return opts[ia].Reversible
		}
		return opts[ia].BlastRadius < opts[ib].BlastRadius
	})
	return idx
}

// Decide runs one policy cycle (spec.md §4.F). confidence is the
// reasoning layer's best hypothesis confidence for the active pattern.
func (p *Policy) Decide(result reasoning.Result, ctx NRVContext) types.Decision {
	confidence := bestConfidence(result.Hypotheses)
	opts := GenerateOptions(result, ctx)

	type candidate struct {
		opt  types.InterventionOption
		nrv  float64
		gate guardrailOutcome
	}
	var admissible []candidate
	for _, o := range opts {
		g := p.evaluateGuardrails(o, confidence)
		if !g.admissible {
			continue
		}
		admissible = append(admissible, candidate{opt: o, nrv: computeNRV(o), gate: g})
	}

	if len(admissible) == 0 {
		d := types.Decision{
			ShouldAct:     false,
			Rationale:     "guardrail-blocked: no admissible option this cycle",
			PatternFamily: result.Pattern,
		}
		return p.applyMinimumFrequency(d, nil, ctx)
	}

	sort.SliceStable(admissible, func(a, b int) bool {
		if admissible[a].nrv != admissible[b].nrv {
			return admissible[a].nrv > admissible[b].nrv
		}
		if admissible[a].opt.Reversible != admissible[b].opt.Reversible {
			return admissible[a].opt.Reversible
		}
		return admissible[a].opt.BlastRadius < admissible[b].opt.BlastRadius
	})

	best := admissible[0]
	alternatives := make([]types.InterventionOption, 0, len(admissible)-1)
	for _, c := range admissible[1:] {
		alternatives = append(alternatives, c.opt)
	}

	if best.nrv > 0 {
		p.noActionStreak = 0
		opt := best.opt
		return types.Decision{
			ShouldAct:             true,
			SelectedOption:        &opt,
			Rationale:             fmt.Sprintf("selected %s on pattern %s (nrv=%.2f)", opt.Type, result.Pattern, best.nrv),
			Alternatives:          alternatives,
			RequiresHumanApproval: best.gate.requiresApproval,
			NRV:                   best.nrv,
			PatternFamily:         result.Pattern,
		}
	}

	d := types.Decision{
		ShouldAct:     false,
		Rationale:     fmt.Sprintf("best admissible option has nrv=%.2f <= 0", best.nrv),
		Alternatives:  alternatives,
		PatternFamily: result.Pattern,
	}
	return p.applyMinimumFrequency(d, &best.opt, ctx)
}

// applyMinimumFrequency enforces the cadence guarantee (spec.md §4.F
// "Minimum-action-frequency rule", P8). The streak counter c reflects
// consecutive NO-ACTION cycles preceding this one, so the c≥N−1 check
// must run before this cycle's own no-action is folded into c —
// otherwise the forced cycle fires one cycle early.
func (p *Policy) applyMinimumFrequency(d types.Decision, fallback *types.InterventionOption, ctx NRVContext) types.Decision {
	n := p.cfg.MinActionFrequencyCycles
	if n <= 0 {
		n = 6
	}
	if p.noActionStreak < n-1 {
		p.noActionStreak++
		return d
	}

	d.MinFreqTriggered = true
	d.ShouldAct = true
	if fallback != nil {
		opt := *fallback
		d.SelectedOption = &opt
		d.Rationale += "; minimum-action-frequency rule forced this cycle's top-ranked option"
	} else {
		opt := types.InterventionOption{
			Type:            types.InterventionAlertOps,
			Tradeoffs:       types.Tradeoffs{InterventionCost: 1},
			Reversible:      true,
			BlastRadius:     0,
			ExpectedOutcome: types.ExpectedOutcome{WindowVolume: ctx.WindowVolume},
		}
		d.SelectedOption = &opt
		d.Rationale += "; minimum-action-frequency rule synthesised alert_ops (no pattern active)"
	}
	d.NRV = computeNRV(*d.SelectedOption)
	p.noActionStreak = 0
	return d
}
