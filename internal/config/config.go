// Package config loads and validates the agent's YAML configuration
// (spec.md §6), following the same Load(path) (Root, error) shape and
// post-load defaulting style as the teacher's internal/config/config.go.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PerIssuerDrift overrides the fleet-wide drift parameters for one
// issuer (spec.md §6 "drift.per_issuer").
type PerIssuerDrift struct {
	Theta            float64 `yaml:"theta"`
	Sigma            float64 `yaml:"sigma"`
	MeanSuccess      float64 `yaml:"mean_success"`
	InitialSuccess   float64 `yaml:"initial_success"`
	InitialLatency   float64 `yaml:"initial_latency"`
	InitialRetryProb float64 `yaml:"initial_retry_prob"`
}

type Drift struct {
	Theta       float64                   `yaml:"theta"`
	Sigma       float64                   `yaml:"sigma"`
	MeanSuccess float64                   `yaml:"mean_success"`
	PerIssuer   map[string]PerIssuerDrift `yaml:"per_issuer"`
}

type IssuerConfig struct {
	InitialSuccess   float64 `yaml:"initial_success"`
	InitialLatency   float64 `yaml:"initial_latency"`
	InitialRetryProb float64 `yaml:"initial_retry_prob"`
}

type Generator struct {
	TransactionRate float64            `yaml:"transaction_rate"` // per second
	BufferSize      int                `yaml:"buffer_size"`
	PSoft           float64            `yaml:"p_soft"`
	MethodMix       map[string]float64 `yaml:"method_mix"`
	RateSchedule    string             `yaml:"rate_schedule"` // constant|sinusoidal|burst
}

type Agent struct {
	CycleIntervalSeconds      float64  `yaml:"cycle_interval"`
	WindowDurationMs          int64    `yaml:"window_duration_ms"`
	AnomalyThreshold          float64  `yaml:"anomaly_threshold"`
	MinActionFrequencyCycles  int      `yaml:"min_action_frequency_cycles"`
	MinConfidenceForAction    float64  `yaml:"min_confidence_for_action"`
	MaxBlastRadiusForAutonomy float64  `yaml:"max_blast_radius_for_autonomy"`
	MaxRetryAdjustment        float64  `yaml:"max_retry_adjustment"`
	MaxSuppressionDurationMs  int64    `yaml:"max_suppression_duration_ms"`
	ProtectedTargets          []string `yaml:"protected_targets"`
	BaselineAlpha             float64  `yaml:"baseline_alpha"`
	MinSampleSize             int      `yaml:"min_sample_size"`
	TauUncertain              float64  `yaml:"tau_uncertain"`
	LatencySLAMs              float64  `yaml:"latency_sla_ms"`
}

type Simulation struct {
	TimeScale       float64 `yaml:"time_scale"`
	DurationSeconds float64 `yaml:"duration_seconds"`
	Seed            int64   `yaml:"seed"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Telemetry struct {
	Port int `yaml:"port"`
}

type Snapshot struct {
	Path string `yaml:"path"`
}

type Audit struct {
	Path string `yaml:"path"`
}

type Slack struct {
	Enabled         bool   `yaml:"enabled"`
	WebhookURL      string `yaml:"webhook_url"`
	ChannelDefault  string `yaml:"channel_default"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	SigningSecret   string `yaml:"signing_secret"`
}

type Broker struct {
	Enabled        bool    `yaml:"enabled"`
	BaseURL        string  `yaml:"base_url"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	TimeoutMs      int     `yaml:"timeout_ms"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
}

type Root struct {
	Drift      Drift                   `yaml:"drift"`
	Issuers    map[string]IssuerConfig `yaml:"issuers"`
	Generator  Generator               `yaml:"generator"`
	Agent      Agent                   `yaml:"agent"`
	Simulation Simulation              `yaml:"simulation"`
	Logging    Logging                 `yaml:"logging"`
	Telemetry  Telemetry               `yaml:"telemetry"`
	Snapshot   Snapshot                `yaml:"snapshot"`
	Audit      Audit                   `yaml:"audit"`
	Slack      Slack                   `yaml:"slack"`
	Broker     Broker                  `yaml:"broker"`
}

// Load reads and validates a YAML config file, applying spec.md §4/§6
// defaults for anything left unset.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := Validate(c); err != nil {
		return c, err
	}
	return c, nil
}

func applyDefaults(c *Root) {
	if c.Drift.Theta == 0 {
		c.Drift.Theta = 0.1
	}
	if c.Drift.Sigma == 0 {
		c.Drift.Sigma = 0.05
	}
	if c.Drift.MeanSuccess == 0 {
		c.Drift.MeanSuccess = 0.95
	}

	if c.Generator.TransactionRate == 0 {
		c.Generator.TransactionRate = 20
	}
	if c.Generator.BufferSize == 0 {
		c.Generator.BufferSize = 1000
	}
	if c.Generator.PSoft == 0 {
		c.Generator.PSoft = 0.5
	}
	if c.Generator.RateSchedule == "" {
		c.Generator.RateSchedule = "constant"
	}
	if len(c.Generator.MethodMix) == 0 {
		c.Generator.MethodMix = map[string]float64{"card": 0.5, "upi": 0.35, "wallet": 0.15}
	}

	if c.Agent.CycleIntervalSeconds == 0 {
		c.Agent.CycleIntervalSeconds = 10
	}
	if c.Agent.WindowDurationMs == 0 {
		c.Agent.WindowDurationMs = 5 * 60 * 1000
	}
	if c.Agent.AnomalyThreshold == 0 {
		c.Agent.AnomalyThreshold = 2.0
	}
	if c.Agent.MinActionFrequencyCycles == 0 {
		c.Agent.MinActionFrequencyCycles = 6
	}
	if c.Agent.MinConfidenceForAction == 0 {
		c.Agent.MinConfidenceForAction = 0.6
	}
	if c.Agent.MaxBlastRadiusForAutonomy == 0 {
		c.Agent.MaxBlastRadiusForAutonomy = 0.4
	}
	if c.Agent.MaxRetryAdjustment == 0 {
		c.Agent.MaxRetryAdjustment = 0.5
	}
	if c.Agent.MaxSuppressionDurationMs == 0 {
		c.Agent.MaxSuppressionDurationMs = 30 * 60 * 1000
	}
	if c.Agent.BaselineAlpha == 0 {
		c.Agent.BaselineAlpha = 0.1
	}
	if c.Agent.MinSampleSize == 0 {
		c.Agent.MinSampleSize = 50
	}
	if c.Agent.TauUncertain == 0 {
		c.Agent.TauUncertain = 0.5
	}
	if c.Agent.LatencySLAMs == 0 {
		c.Agent.LatencySLAMs = 900
	}

	if c.Simulation.TimeScale == 0 {
		c.Simulation.TimeScale = 1.0
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Telemetry.Port == 0 {
		c.Telemetry.Port = 8765
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = "data/snapshot.json"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "data/audit.jsonl"
	}

	if c.Slack.ChannelDefault == "" {
		c.Slack.ChannelDefault = "#payments-ops"
	}
	if c.Slack.RateLimitPerMin == 0 {
		c.Slack.RateLimitPerMin = 10
	}

	if c.Broker.PollIntervalMs == 0 {
		c.Broker.PollIntervalMs = 1000
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 5000
	}
	if c.Broker.RatePerSecond == 0 {
		c.Broker.RatePerSecond = 5
	}
}

// Validate enforces the numeric ranges spec.md §4/§6 requires; invalid
// values reject the run (spec.md §6, §7 "Fatal only on configuration
// validation failure at start").
func Validate(c Root) error {
	if c.Drift.Theta <= 0 {
		return fmt.Errorf("config: drift.theta must be > 0, got %v", c.Drift.Theta)
	}
	if c.Drift.Sigma < 0 {
		return fmt.Errorf("config: drift.sigma must be >= 0, got %v", c.Drift.Sigma)
	}
	if c.Drift.MeanSuccess < 0 || c.Drift.MeanSuccess > 1 {
		return fmt.Errorf("config: drift.mean_success must be in [0,1], got %v", c.Drift.MeanSuccess)
	}
	for name, o := range c.Drift.PerIssuer {
		if o.Theta < 0 || o.Sigma < 0 {
			return fmt.Errorf("config: drift.per_issuer[%s] theta/sigma must be >= 0", name)
		}
	}

	if c.Generator.TransactionRate <= 0 {
		return fmt.Errorf("config: generator.transaction_rate must be > 0, got %v", c.Generator.TransactionRate)
	}
	if c.Generator.BufferSize <= 0 {
		return fmt.Errorf("config: generator.buffer_size must be > 0, got %v", c.Generator.BufferSize)
	}
	if c.Generator.PSoft < 0 || c.Generator.PSoft > 1 {
		return fmt.Errorf("config: generator.p_soft must be in [0,1], got %v", c.Generator.PSoft)
	}
	switch c.Generator.RateSchedule {
	case "constant", "sinusoidal", "burst":
	default:
		return fmt.Errorf("config: generator.rate_schedule must be one of constant|sinusoidal|burst, got %q", c.Generator.RateSchedule)
	}

	if c.Agent.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("config: agent.cycle_interval must be > 0, got %v", c.Agent.CycleIntervalSeconds)
	}
	if c.Agent.WindowDurationMs <= 0 {
		return fmt.Errorf("config: agent.window_duration_ms must be > 0, got %v", c.Agent.WindowDurationMs)
	}
	if c.Agent.AnomalyThreshold <= 0 {
		return fmt.Errorf("config: agent.anomaly_threshold must be > 0, got %v", c.Agent.AnomalyThreshold)
	}
	if c.Agent.MinActionFrequencyCycles < 1 {
		return fmt.Errorf("config: agent.min_action_frequency_cycles must be >= 1, got %v", c.Agent.MinActionFrequencyCycles)
	}
	if c.Agent.MinConfidenceForAction < 0 || c.Agent.MinConfidenceForAction > 1 {
		return fmt.Errorf("config: agent.min_confidence_for_action must be in [0,1], got %v", c.Agent.MinConfidenceForAction)
	}
	if c.Agent.MaxBlastRadiusForAutonomy < 0 || c.Agent.MaxBlastRadiusForAutonomy > 1 {
		return fmt.Errorf("config: agent.max_blast_radius_for_autonomy must be in [0,1], got %v", c.Agent.MaxBlastRadiusForAutonomy)
	}
	if c.Agent.BaselineAlpha <= 0 || c.Agent.BaselineAlpha > 1 {
		return fmt.Errorf("config: agent.baseline_alpha must be in (0,1], got %v", c.Agent.BaselineAlpha)
	}
	if c.Agent.MinSampleSize < 1 {
		return fmt.Errorf("config: agent.min_sample_size must be >= 1, got %v", c.Agent.MinSampleSize)
	}

	if c.Simulation.TimeScale <= 0 {
		return fmt.Errorf("config: simulation.time_scale must be > 0, got %v", c.Simulation.TimeScale)
	}

	for name, ic := range c.Issuers {
		if ic.InitialSuccess < 0 || ic.InitialSuccess > 1 {
			return fmt.Errorf("config: issuers[%s].initial_success must be in [0,1], got %v", name, ic.InitialSuccess)
		}
		if ic.InitialLatency != 0 && (ic.InitialLatency < 50 || ic.InitialLatency > 2000) {
			return fmt.Errorf("config: issuers[%s].initial_latency must be in [50,2000], got %v", name, ic.InitialLatency)
		}
		if ic.InitialRetryProb < 0 || ic.InitialRetryProb > 0.5 {
			return fmt.Errorf("config: issuers[%s].initial_retry_prob must be in [0,0.5], got %v", name, ic.InitialRetryProb)
		}
	}

	return nil
}
