package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/paymentops-agent/internal/types"
	"github.com/Rajchodisetti/paymentops-agent/internal/window"
)

// P11: save-then-load produces an equivalent state.
func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "snapshot.json"))

	w := window.New(5*time.Minute, 0.1, 1)
	w.Ingest([]types.Transaction{{ID: "t", TimestampMs: 1000, Issuer: types.IssuerHDFC, Method: types.MethodCard, Outcome: types.OutcomeSuccess}})
	w.Refresh(time.UnixMilli(1000))

	st := State{
		Seed:           42,
		CycleCounter:   7,
		NoActionStreak: 3,
		ActiveInterventions: []*types.ActiveIntervention{
			{ID: "intv-1", Type: types.InterventionSuppressPath, Target: types.IssuerICICI, StartMs: 1000, EndMs: 2000, Status: types.StatusActing},
		},
		Baselines: EncodeBaselines(w.Snapshot()),
	}

	require.NoError(t, store.Save(st))

	loaded, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, st.Seed, loaded.Seed)
	assert.Equal(t, st.CycleCounter, loaded.CycleCounter)
	assert.Equal(t, st.NoActionStreak, loaded.NoActionStreak)
	require.Len(t, loaded.ActiveInterventions, 1)
	assert.Equal(t, "intv-1", loaded.ActiveInterventions[0].ID)

	w2 := window.New(5*time.Minute, 0.1, 1)
	w2.Restore(DecodeBaselines(loaded.Baselines))
	b1, _ := w.Baseline(types.GlobalDimension())
	b2, _ := w2.Baseline(types.GlobalDimension())
	assert.Equal(t, b1, b2)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "missing.json"))

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}
