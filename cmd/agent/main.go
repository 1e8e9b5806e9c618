// cmd/agent runs the payment-ops control loop continuously, wiring
// every component from a loaded config and serving telemetry and
// health endpoints alongside it. Grounded on the teacher's
// cmd/decision/main.go: the same flag parsing, config-load-or-fatal
// startup, and --oneshot=false keep-alive HTTP server pattern.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/alerts"
	"github.com/Rajchodisetti/paymentops-agent/internal/audit"
	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	"github.com/Rajchodisetti/paymentops-agent/internal/drift"
	"github.com/Rajchodisetti/paymentops-agent/internal/feedback"
	"github.com/Rajchodisetti/paymentops-agent/internal/generator"
	"github.com/Rajchodisetti/paymentops-agent/internal/observ"
	"github.com/Rajchodisetti/paymentops-agent/internal/orchestrator"
	"github.com/Rajchodisetti/paymentops-agent/internal/policy"
	"github.com/Rajchodisetti/paymentops-agent/internal/reasoning"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/snapshot"
	"github.com/Rajchodisetti/paymentops-agent/internal/telemetry"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
	"github.com/Rajchodisetti/paymentops-agent/internal/window"
)

func main() {
	var (
		cfgPath   string
		durationS float64
		timeScale float64
		snapPath  string
		oneShot   bool
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.Float64Var(&durationS, "duration", 0, "stop after this many seconds of simulated time (0 = run until signalled)")
	flag.Float64Var(&timeScale, "time-scale", 0, "override simulation.time_scale (0 = use config)")
	flag.StringVar(&snapPath, "snapshot", "", "override snapshot.path (empty = use config)")
	flag.BoolVar(&oneShot, "oneshot", false, "exit after --duration elapses instead of serving telemetry/health")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if timeScale > 0 {
		cfg.Simulation.TimeScale = timeScale
	}
	if snapPath != "" {
		cfg.Snapshot.Path = snapPath
	}

	simCtx := simctx.New(cfg, cfg.Simulation.Seed, simctx.SystemClock{})
	observ.Log("startup", map[string]any{"config": cfgPath, "seed": simCtx.Seed(), "time_scale": cfg.Simulation.TimeScale})

	driftEngine := drift.New(simCtx)
	gen := generator.New(simCtx)
	fb := feedback.New()
	win := window.New(time.Duration(cfg.Agent.WindowDurationMs)*time.Millisecond, cfg.Agent.BaselineAlpha, cfg.Agent.MinSampleSize)
	reasoner := reasoning.New(cfg.Agent.AnomalyThreshold, cfg.Agent.TauUncertain, cfg.Agent.LatencySLAMs)

	protected := make(map[types.Issuer]bool, len(cfg.Agent.ProtectedTargets))
	for _, name := range cfg.Agent.ProtectedTargets {
		protected[types.Issuer(name)] = true
	}
	pol := policy.New(policy.Config{
		MaxRetryAdjustment:        cfg.Agent.MaxRetryAdjustment,
		MaxSuppressionDurationMs:  cfg.Agent.MaxSuppressionDurationMs,
		ProtectedTargets:          protected,
		MaxBlastRadiusForAutonomy: cfg.Agent.MaxBlastRadiusForAutonomy,
		MinConfidenceForAction:    cfg.Agent.MinConfidenceForAction,
		MinActionFrequencyCycles:  cfg.Agent.MinActionFrequencyCycles,
	})

	snapStore := snapshot.NewStore(cfg.Snapshot.Path)
	auditLog, err := audit.New(cfg.Audit.Path)
	if err != nil {
		log.Fatalf("create audit log: %v", err)
	}

	hub := telemetry.NewHub()
	slackClient := alerts.NewSlackClient(cfg.Slack)
	defer slackClient.Close()

	o := orchestrator.New(simCtx, driftEngine, gen, fb, win, reasoner, pol, snapStore, auditLog, hub, slackClient)
	if cfg.Slack.SigningSecret != "" {
		o.SetApprovalSink(alerts.NewSlackApprovalSink(slackClient, cfg.Slack.SigningSecret))
	}

	if st, found, err := snapStore.Load(); err != nil {
		observ.Log("snapshot_load_failed", map[string]any{"error": err.Error()})
	} else if found {
		o.Restore(st)
		observ.Log("snapshot_restored", map[string]any{"cycle_id": st.CycleCounter})
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		observ.Log("shutdown_signal", nil)
		o.Stop()
		cancel()
	}()

	mux := http.NewServeMux()
	mux.Handle("/telemetry", hub)
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/health", observ.Health())
	mux.Handle("/healthz", observ.HealthHandler())
	addr := "127.0.0.1:8765"
	if cfg.Telemetry.Port != 0 {
		addr = "127.0.0.1:" + itoa(cfg.Telemetry.Port)
	}
	observ.Log("telemetry_listen", map[string]any{"addr": addr})
	go func() { _ = http.ListenAndServe(addr, mux) }()

	maxDuration := time.Duration(durationS * float64(time.Second))
	if err := o.Run(ctx, maxDuration); err != nil {
		log.Fatalf("orchestrator run: %v", err)
	}

	observ.Log("shutdown_complete", map[string]any{"cycle_id": o.CycleID()})
	if oneShot {
		os.Exit(0)
	}
	select {}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
