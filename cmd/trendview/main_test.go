package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/export"
)

func execute(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
}

func TestSynthThenTrend(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "wavetrend.toml")
	t.Setenv("WAVETREND_BACKEND", "sqlite")
	t.Setenv("WAVETREND_DATA_PATH", filepath.Join(dir, "records.db"))
	t.Setenv("WAVETREND_LOG_LEVEL", "warn")

	execute(t, "synth", "logger-a", "-c", cfgFile, "-n", "120", "--start", "1720000000000", "--gap-every", "50")

	out := filepath.Join(dir, "trend.csv")
	execute(t, "trend", "logger-a", "-c", cfgFile, "-o", out, "-f", "csv")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	points, err := export.TrendFromCSV(f)
	require.NoError(t, err)
	require.Len(t, points, 120)
	require.Equal(t, int64(1720000000000), points[0].Timestamp)

	backup := filepath.Join(dir, "none.json")
	require.NoError(t, os.WriteFile(backup, []byte(`{"metadata":{"source_id":"logger-b"},"records":[]}`), 0o644))
	execute(t, "import", backup, "-c", cfgFile)
}

func TestTrendUnknownSource(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WAVETREND_BACKEND", "memory")

	rootCmd.SetArgs([]string{"trend", "ghost", "-c", filepath.Join(dir, "wavetrend.toml"), "-o", filepath.Join(dir, "x.csv")})
	require.ErrorContains(t, rootCmd.Execute(), "error")
}
