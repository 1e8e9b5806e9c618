// cmd/replay reads a persisted audit log (and optionally the matching
// snapshot) and prints each cycle's decision for post-mortem review.
// Grounded on the teacher's cmd/replay/main.go: the same
// mustRead-then-print shape, adapted from reconstructing decisions out
// of fixtures to simply decoding the NDJSON trail the agent already
// wrote.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Rajchodisetti/paymentops-agent/internal/audit"
	"github.com/Rajchodisetti/paymentops-agent/internal/snapshot"
)

func mustOpen(path string) *os.File {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	return f
}

func main() {
	log.SetFlags(0)

	var (
		auditPath    string
		snapshotPath string
		sinceCycle   int64
		onlyActions  bool
	)
	flag.StringVar(&auditPath, "audit", "data/audit.jsonl", "path to the audit NDJSON log")
	flag.StringVar(&snapshotPath, "snapshot", "", "optional snapshot path to print alongside the trail")
	flag.Int64Var(&sinceCycle, "since-cycle", 0, "skip records with CycleID below this value")
	flag.BoolVar(&onlyActions, "only-actions", false, "skip no-action cycles")
	flag.Parse()

	f := mustOpen(auditPath)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var printed, skipped int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Fatalf("decode audit record: %v", err)
		}
		if rec.CycleID < sinceCycle {
			skipped++
			continue
		}
		if onlyActions && !rec.Decision.ShouldAct {
			skipped++
			continue
		}
		printCycle(rec)
		printed++
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("scan %s: %v", auditPath, err)
	}
	fmt.Printf("# %d record(s) printed, %d skipped\n", printed, skipped)

	if snapshotPath != "" {
		printSnapshot(snapshotPath)
	}
}

func printCycle(rec audit.Record) {
	action := "no_action"
	target := ""
	if rec.Decision.ShouldAct && rec.Decision.SelectedOption != nil {
		action = string(rec.Decision.SelectedOption.Type)
		target = string(rec.Decision.SelectedOption.Target)
	}
	fmt.Printf("cycle=%d ts=%s severity=%s pattern=%s action=%s target=%s nrv=%.1f min_freq=%v approval=%v rationale=%q\n",
		rec.CycleID,
		rec.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		rec.Severity,
		rec.Decision.PatternFamily,
		action,
		target,
		rec.NRV,
		rec.MinFreqTriggered,
		rec.Decision.RequiresHumanApproval,
		rec.Decision.Rationale,
	)
	if rec.GuardrailOutcome != "" {
		fmt.Printf("  guardrail=%s\n", rec.GuardrailOutcome)
	}
}

func printSnapshot(path string) {
	store := snapshot.NewStore(path)
	st, found, err := store.Load()
	if err != nil {
		log.Fatalf("load snapshot %s: %v", path, err)
	}
	if !found {
		fmt.Printf("# no snapshot at %s\n", path)
		return
	}
	fmt.Printf("# snapshot: cycle=%d seed=%d no_action_streak=%d active_interventions=%d updated_at=%s\n",
		st.CycleCounter, st.Seed, st.NoActionStreak, len(st.ActiveInterventions), st.UpdatedAt)
	for _, ai := range st.ActiveInterventions {
		fmt.Printf("  active: id=%s type=%s target=%s status=%s\n", ai.ID, ai.Type, ai.Target, ai.Status)
	}
}
