package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rctune/internal/config"
	"github.com/banshee-data/rctune/internal/monitoring"
	"github.com/banshee-data/rctune/internal/storage/sqlite"
	"github.com/banshee-data/rctune/internal/tuner"
)

func quietLogs(t *testing.T) *[]string {
	t.Helper()
	lines, restore := monitoring.Capture()
	t.Cleanup(restore)
	return lines
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, modeTune, o.mode)
	assert.Equal(t, 20, o.limit)
	assert.Empty(t, o.set)
}

func TestParseFlagsRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"-mode", "sweep"}},
		{"history without db", []string{"-mode", "history"}},
		{"unknown flag", []string{"-frobnicate"}},
		{"bad number", []string{"-tolerance", "tight"}},
		{"run outside history", []string{"-run", "abc"}},
		{"run and delete", []string{"-mode", "history", "-db", "runs.db", "-run", "a", "-delete", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	o, err := parseFlags([]string{
		"-strategy", "binary", "-target", "1MHz", "-tolerance", "0.02",
		"-iterations", "30", "-seed", "7", "-mc-runs", "10",
	}, io.Discard)
	require.NoError(t, err)

	cfg, err := loadConfig(o)
	require.NoError(t, err)
	assert.Equal(t, config.StrategyBinary, cfg.GetStrategy())
	target, err := cfg.GetTargetHz()
	require.NoError(t, err)
	assert.Equal(t, 1e6, target)
	assert.Equal(t, 0.02, cfg.GetRelativeTolerance())
	assert.Equal(t, 30, cfg.GetBinaryIterations())
	assert.Equal(t, 200, cfg.GetNewtonIterations())
	assert.Equal(t, uint64(7), cfg.GetSeed())
	assert.Equal(t, 10, cfg.GetMonteCarloRuns())
	// untouched fields keep their defaults
	assert.Equal(t, config.OracleIdeal, cfg.GetOracle())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"target": "2.4G", "strategy": "binary"}`), 0o644))

	o, err := parseFlags([]string{"-config", path, "-strategy", "newton"}, io.Discard)
	require.NoError(t, err)
	cfg, err := loadConfig(o)
	require.NoError(t, err)

	target, _ := cfg.GetTargetHz()
	assert.Equal(t, 2.4e9, target)
	assert.Equal(t, config.StrategyNewton, cfg.GetStrategy(), "flag overrides file")
}

func TestLoadConfigInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"-target", "fast"},
		{"-target", "-1G"},
		{"-tolerance", "2"},
		{"-iterations", "0"},
		{"-oracle", "ltspice"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			o, err := parseFlags(args, io.Discard)
			require.NoError(t, err)
			_, err = loadConfig(o)
			assert.True(t, errors.Is(err, tuner.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestBuildOracle(t *testing.T) {
	cfg := config.DefaultTuningConfig()
	_, ok := buildOracle(cfg).(*tuner.IdealRC)
	assert.True(t, ok)

	ng := config.OracleNgspice
	cfg.Oracle = &ng
	assert.NotNil(t, buildOracle(cfg))
	_, ok = buildOracle(cfg).(*tuner.IdealRC)
	assert.False(t, ok)
}

func TestRunTuneWritesArtefacts(t *testing.T) {
	lines := quietLogs(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")

	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"-seed", "42",
		"-db", dbPath,
		"-csv", filepath.Join(dir, "run.csv"),
		"-html", filepath.Join(dir, "run.html"),
		"-xlsx", filepath.Join(dir, "run.xlsx"),
		"-plot-dir", filepath.Join(dir, "plots"),
	}, &stdout, io.Discard)
	require.NoError(t, err)

	assert.Regexp(t, `status\s+converged`, stdout.String())
	assert.Regexp(t, `within tolerance\s+true`, stdout.String())
	for _, name := range []string{"run.csv", "run.html", "run.xlsx", "plots/response.png", "plots/convergence.png"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NotEmpty(t, *lines)

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := sqlite.NewRunStore(db.DB).List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "newton", runs[0].Strategy)
	assert.Equal(t, tuner.StatusConverged, runs[0].Status)
}

func TestRunMonteCarloAndHistory(t *testing.T) {
	quietLogs(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	var stdout bytes.Buffer
	err := run(context.Background(), []string{
		"-mode", "montecarlo", "-quiet", "-seed", "3", "-mc-runs", "25", "-db", dbPath,
	}, &stdout, io.Discard)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "25 of 25 (0 misses)")

	stdout.Reset()
	require.NoError(t, run(context.Background(), []string{"-mode", "history", "-db", dbPath}, &stdout, io.Discard))
	out := stdout.String()
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "montecarlo")
	assert.Contains(t, out, "newton")
}

func TestRunHistoryEmpty(t *testing.T) {
	quietLogs(t)
	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-mode", "history", "-db", filepath.Join(t.TempDir(), "empty.db")}, &stdout, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "no runs recorded\n", stdout.String())
}

func storedRuns(t *testing.T, dbPath string) []*sqlite.Run {
	t.Helper()
	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := sqlite.NewRunStore(db.DB).List(0)
	require.NoError(t, err)
	return runs
}

func TestRunHistoryShowAndDelete(t *testing.T) {
	quietLogs(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	require.NoError(t, run(context.Background(), []string{"-quiet", "-seed", "5", "-db", dbPath}, io.Discard, io.Discard))

	runs := storedRuns(t, dbPath)
	require.Len(t, runs, 1)
	id := runs[0].RunID

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-mode", "history", "-db", dbPath, "-run", id[:8]}, &stdout, io.Discard))
	out := stdout.String()
	assert.Contains(t, out, id)
	assert.Regexp(t, `status\s+converged`, out)
	assert.Contains(t, out, "ITER")
	assert.Contains(t, out, "newt")
	assert.Contains(t, out, "best")

	stdout.Reset()
	require.NoError(t, run(context.Background(), []string{"-mode", "history", "-db", dbPath, "-delete", id}, &stdout, io.Discard))
	assert.Equal(t, "deleted run "+id+"\n", stdout.String())
	assert.Empty(t, storedRuns(t, dbPath))

	err := run(context.Background(), []string{"-mode", "history", "-db", dbPath, "-run", id}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, sqlite.ErrRunNotFound)
}

func TestRunHistoryWithoutMeasurements(t *testing.T) {
	quietLogs(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, []string{"-quiet", "-db", dbPath}, io.Discard, io.Discard)
	require.ErrorIs(t, err, context.Canceled)

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-mode", "history", "-db", dbPath}, &stdout, io.Discard))
	out := stdout.String()
	assert.Regexp(t, `cancelled\s+5 GHz\s+-\s+-\s+0\n`, out)
	assert.NotContains(t, out, "0.000%")
}

func TestRunVersion(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &stdout, io.Discard))
	assert.True(t, strings.HasPrefix(stdout.String(), "rctune "), stdout.String())
}

func TestRunCancelled(t *testing.T) {
	quietLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout bytes.Buffer
	err := run(ctx, []string{"-quiet"}, &stdout, io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Regexp(t, `status\s+cancelled`, stdout.String())
}
