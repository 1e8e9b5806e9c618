// cmd/stubbroker is a standalone synthetic transaction publisher that
// speaks the plain-JSON long-poll protocol internal/broker.HTTPPoll
// consumes, for exercising that side-path end-to-end without a live
// agent. Grounded on the teacher's internal/stubs/sse_server.go: the
// same resumption-cursor bookkeeping and client registry pattern,
// adapted from SSE push framing to a plain request/response /stream
// endpoint since the broker side polls rather than subscribes.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/config"
	"github.com/Rajchodisetti/paymentops-agent/internal/drift"
	"github.com/Rajchodisetti/paymentops-agent/internal/feedback"
	"github.com/Rajchodisetti/paymentops-agent/internal/generator"
	"github.com/Rajchodisetti/paymentops-agent/internal/simctx"
	"github.com/Rajchodisetti/paymentops-agent/internal/types"
)

// wireEnvelope mirrors internal/broker's unexported wire shape; kept
// as a separate definition since that field layout is this protocol's
// contract, not an implementation detail to import across packages.
type wireEnvelope struct {
	Transactions []types.Transaction `json:"transactions"`
	Cursor       string              `json:"cursor"`
}

// publisher owns the growing transaction log and answers /stream
// requests with everything published since the caller's cursor.
type publisher struct {
	mu  sync.RWMutex
	log []types.Transaction
}

func (p *publisher) append(txns []types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, txns...)
}

func (p *publisher) since(cursor string) ([]types.Transaction, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	start, err := strconv.Atoi(cursor)
	if err != nil || start < 0 || start > len(p.log) {
		start = 0
	}
	out := append([]types.Transaction(nil), p.log[start:]...)
	return out, strconv.Itoa(len(p.log))
}

func (p *publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	txns, cursor := p.since(since)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wireEnvelope{Transactions: txns, Cursor: cursor})
}

func main() {
	var (
		cfgPath string
		addr    string
		tickMs  int
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path (drift/generator sections only)")
	flag.StringVar(&addr, "addr", "127.0.0.1:8766", "listen address")
	flag.IntVar(&tickMs, "tick-ms", 500, "synthetic-generation tick interval in milliseconds")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	simCtx := simctx.New(cfg, cfg.Simulation.Seed, simctx.SystemClock{})
	driftEngine := drift.New(simCtx)
	gen := generator.New(simCtx)
	fb := feedback.New()

	pub := &publisher{}

	go func() {
		ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
		defer ticker.Stop()
		delivered := 0
		dt := float64(tickMs) / 1000.0
		for now := range ticker.C {
			driftEngine.Update(dt, now)
			gen.Generate(dt, now, driftEngine, fb)
			all := gen.Buffer().Snapshot()
			if delivered < len(all) {
				pub.append(all[delivered:])
				delivered = len(all)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/stream", pub)
	log.Printf("stubbroker listening on %s (tick=%dms)", addr, tickMs)
	log.Fatal(http.ListenAndServe(addr, mux))
}
