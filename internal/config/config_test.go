package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
issuers:
  HDFC:
    initial_success: 0.95
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.Drift.Theta)
	assert.Equal(t, 0.05, cfg.Drift.Sigma)
	assert.Equal(t, 0.95, cfg.Drift.MeanSuccess)
	assert.Equal(t, 20.0, cfg.Generator.TransactionRate)
	assert.Equal(t, 1000, cfg.Generator.BufferSize)
	assert.Equal(t, 10.0, cfg.Agent.CycleIntervalSeconds)
	assert.Equal(t, 6, cfg.Agent.MinActionFrequencyCycles)
	assert.Equal(t, 50, cfg.Agent.MinSampleSize)
}

func TestLoadRejectsInvalidRanges(t *testing.T) {
	cases := []string{
		"drift:\n  theta: -1\n",
		"generator:\n  p_soft: 1.5\n",
		"generator:\n  rate_schedule: unknown\n",
		"agent:\n  max_blast_radius_for_autonomy: 2\n",
		"issuers:\n  HDFC:\n    initial_success: 1.5\n",
	}
	for _, body := range cases {
		path := writeTempConfig(t, body)
		_, err := Load(path)
		assert.Error(t, err, body)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
