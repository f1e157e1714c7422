package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/talgya/housing-market/internal/config"
	"github.com/talgya/housing-market/internal/persistence"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigShowMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation:\n  seed: 42\n  target_population: 500\n"), 0o600))

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, int64(42), cfg.Simulation.Seed)
	assert.Equal(t, 500, cfg.Simulation.TargetPopulation)
	assert.Equal(t, config.Defaults().Market.NQuality, cfg.Market.NQuality)
}

func TestConfigShowRejectsMissingFile(t *testing.T) {
	_, err := execute(t, "config", "show", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunRecordsToDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	cfgPath := filepath.Join(dir, "model.yaml")
	model := "simulation:\n  target_population: 120\n  report_every: 0\noutput:\n  db_path: " + dbPath + "\n  log_level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(model), 0o600))

	_, err := execute(t, "run", "--config", cfgPath, "--months", "3", "--sims", "2", "--seed", "5")
	require.NoError(t, err)

	db, err := persistence.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.True(t, r.Finished)
		assert.Equal(t, 3, r.Months)
		ind, err := db.Indicators(r.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, ind)
	}
}

func TestRunRejectsInvalidOverride(t *testing.T) {
	_, err := execute(t, "run", "--months", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "n_steps")
}
