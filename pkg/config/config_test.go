package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "wavetrend.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavetrend.toml")
	body := `
[source]
backend = "sqlite"
path = "/var/lib/wavetrend/records.db"

[pipeline]
strategy = "peak"
chunk_size = 250
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.Source.Backend)
	require.Equal(t, 250, cfg.Pipeline.ChunkSize)
	require.Equal(t, "peak", cfg.Pipeline.Strategy)
	require.Equal(t, DefaultDecodeWorkers, cfg.Pipeline.DecodeWorkers)
	require.Equal(t, DefaultPort, cfg.Server.ListenPort)
	require.Equal(t, 15*time.Minute, cfg.Pipeline.GapThreshold())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavetrend.toml")
	t.Setenv("WAVETREND_PORT", "9090")
	t.Setenv("WAVETREND_BACKEND", "memory")
	t.Setenv("WAVETREND_CHUNK_SIZE", "not-a-number")
	t.Setenv("WAVETREND_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.ListenPort)
	require.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	require.Equal(t, BackendMemory, cfg.Source.Backend)
	require.Equal(t, DefaultChunkSize, cfg.Pipeline.ChunkSize)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavetrend.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pipeline\nchunk_size = "), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "failed to decode config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port", mutate: func(c *Config) { c.Server.ListenPort = 0 }},
		{name: "backend", mutate: func(c *Config) { c.Source.Backend = "postgres" }},
		{name: "path", mutate: func(c *Config) { c.Source.Path = "" }},
		{name: "chunk size", mutate: func(c *Config) { c.Pipeline.ChunkSize = MaxChunkSize + 1 }},
		{name: "workers", mutate: func(c *Config) { c.Pipeline.DecodeWorkers = 0 }},
		{name: "gap", mutate: func(c *Config) { c.Pipeline.GapThresholdSeconds = -1 }},
		{name: "strategy", mutate: func(c *Config) { c.Pipeline.Strategy = "median" }},
		{name: "layout", mutate: func(c *Config) { c.Pipeline.Layout = "interleaved" }},
		{name: "unit", mutate: func(c *Config) { c.Pipeline.TimestampUnit = "ns" }},
		{name: "level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "format", mutate: func(c *Config) { c.Log.Format = "xml" }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	mem := Default()
	mem.Source = SourceConfig{Backend: BackendMemory}
	require.NoError(t, mem.Validate())
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = NewLogger(LogConfig{Level: "nope"})
	require.Error(t, err)
}
