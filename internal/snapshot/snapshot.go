// Package snapshot persists and restores the agent's cross-restart
// state: active interventions, per-dimension baselines, the cycle
// counter, the minimum-action-frequency streak, and the RNG seed
// (spec.md §6 "Persisted state"). Grounded on the teacher's
// internal/portfolio/state.go Manager, which uses the same
// Version-stamped JSON file written via a temp-file-then-rename for
// atomicity.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Rajchodisetti/paymentops-agent/internal/types"
	"github.com/Rajchodisetti/paymentops-agent/internal/window"
)

// EncodeBaselines flattens a window's internal per-dimension map into
// the JSON-friendly slice form stored in State.
func EncodeBaselines(snap window.Snapshot) []BaselineEntry {
	out := make([]BaselineEntry, 0, len(snap.Baselines))
	for dim, b := range snap.Baselines {
		out = append(out, BaselineEntry{
			DimensionKind:  dim.Kind,
			DimensionValue: dim.Value,
			SuccessMean:    b.SuccessMean,
			SuccessVar:     b.SuccessVar,
			LatencyMean:    b.LatencyMean,
			LatencyVar:     b.LatencyVar,
			RetryMean:      b.RetryMean,
			RetryVar:       b.RetryVar,
			Samples:        b.Samples,
		})
	}
	return out
}

// DecodeBaselines reverses EncodeBaselines for Window.Restore.
func DecodeBaselines(entries []BaselineEntry) window.Snapshot {
	out := make(map[types.DimensionKey]window.Baseline, len(entries))
	for _, e := range entries {
		key := types.DimensionKey{Kind: e.DimensionKind, Value: e.DimensionValue}
		out[key] = window.Baseline{
			SuccessMean: e.SuccessMean,
			SuccessVar:  e.SuccessVar,
			LatencyMean: e.LatencyMean,
			LatencyVar:  e.LatencyVar,
			RetryMean:   e.RetryMean,
			RetryVar:    e.RetryVar,
			Samples:     e.Samples,
		}
	}
	return window.Snapshot{Baselines: out}
}

// BaselineEntry is a JSON-friendly encoding of one dimension's
// baseline; types.DimensionKey is a struct and cannot be a JSON map
// key directly, so it is flattened into fields here.
type BaselineEntry struct {
	DimensionKind  string  `json:"dimension_kind"`
	DimensionValue string  `json:"dimension_value"`
	SuccessMean    float64 `json:"success_mean"`
	SuccessVar     float64 `json:"success_var"`
	LatencyMean    float64 `json:"latency_mean"`
	LatencyVar     float64 `json:"latency_var"`
	RetryMean      float64 `json:"retry_mean"`
	RetryVar       float64 `json:"retry_var"`
	Samples        int64   `json:"samples"`
}

// State is the full persisted document (spec.md §6). Unknown fields
// are ignored on load, matching encoding/json's default behaviour, so
// the format stays forward-compatible across restarts without any
// versioning shim.
type State struct {
	Version             int                         `json:"version"`
	UpdatedAt           string                      `json:"updated_at"`
	Seed                int64                       `json:"seed"`
	CycleCounter        int64                       `json:"cycle_counter"`
	NoActionStreak      int                         `json:"no_action_streak"`
	ActiveInterventions []*types.ActiveIntervention `json:"active_interventions"`
	Baselines           []BaselineEntry             `json:"baselines"`
}

const formatVersion = 1

// Store reads and atomically writes the snapshot file at path.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

// Load reads the snapshot from disk. A missing file is not an error:
// callers should start from defaults (spec.md §7 "Snapshot read
// failure on start: start from defaults; log").
func (s *Store) Load() (State, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("snapshot: read %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("snapshot: decode %s: %w", s.path, err)
	}
	return st, true, nil
}

// Save writes the snapshot atomically via a temp file plus rename
// (spec.md §7 "Snapshot write failure: warn; keep in-memory state;
// retry next cycle" — callers decide retry policy; Save itself just
// reports the error).
func (s *Store) Save(st State) error {
	st.Version = formatVersion
	st.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}
