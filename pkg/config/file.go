package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/reduce"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

// Supported record store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Source   SourceConfig   `toml:"source"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
}

type SourceConfig struct {
	Backend string `toml:"backend"`
	// Directory for badger, file for sqlite
	Path        string `toml:"path"`
	MaxMemoryMB int64  `toml:"max_memory_mb"`
}

type PipelineConfig struct {
	ChunkSize           int    `toml:"chunk_size"`
	DecodeWorkers       int    `toml:"decode_workers"`
	Strategy            string `toml:"strategy"`
	Layout              string `toml:"layout"`
	GapThresholdSeconds int64  `toml:"gap_threshold_seconds"`
	TimestampUnit       string `toml:"timestamp_unit"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration written for a fresh install
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddress: DefaultListenAddress,
			ListenPort:    DefaultPort,
		},
		Source: SourceConfig{
			Backend:     BackendBadger,
			Path:        DefaultDataPath,
			MaxMemoryMB: DefaultMaxMemoryMB,
		},
		Pipeline: PipelineConfig{
			ChunkSize:           DefaultChunkSize,
			DecodeWorkers:       DefaultDecodeWorkers,
			Strategy:            DefaultStrategy,
			Layout:              DefaultLayout,
			GapThresholdSeconds: DefaultGapThreshold,
			TimestampUnit:       DefaultTimestampUnit,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path, writing one with defaults first when it
// does not exist. Keys missing from the file keep their defaults.
// WAVETREND_* environment variables override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return Config{}, err
		}
	} else if err != nil {
		return Config{}, fmt.Errorf("failed to stat config %s: %w", path, err)
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func write(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.ListenAddress = getEnvString("WAVETREND_LISTEN_ADDRESS", c.Server.ListenAddress)
	c.Server.ListenPort = int(getEnvInt64("WAVETREND_PORT", int64(c.Server.ListenPort)))
	c.Source.Backend = getEnvString("WAVETREND_BACKEND", c.Source.Backend)
	c.Source.Path = getEnvString("WAVETREND_DATA_PATH", c.Source.Path)
	c.Source.MaxMemoryMB = getEnvInt64("WAVETREND_MAX_MEMORY_MB", c.Source.MaxMemoryMB)
	c.Pipeline.ChunkSize = int(getEnvInt64("WAVETREND_CHUNK_SIZE", int64(c.Pipeline.ChunkSize)))
	c.Pipeline.DecodeWorkers = int(getEnvInt64("WAVETREND_DECODE_WORKERS", int64(c.Pipeline.DecodeWorkers)))
	c.Pipeline.Strategy = getEnvString("WAVETREND_STRATEGY", c.Pipeline.Strategy)
	c.Pipeline.Layout = getEnvString("WAVETREND_LAYOUT", c.Pipeline.Layout)
	c.Pipeline.GapThresholdSeconds = getEnvInt64("WAVETREND_GAP_THRESHOLD_SECONDS", c.Pipeline.GapThresholdSeconds)
	c.Log.Level = getEnvString("WAVETREND_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvString("WAVETREND_LOG_FORMAT", c.Log.Format)
}

// Validate checks ranges and that every named option is known
func (c Config) Validate() error {
	if c.Server.ListenPort <= 0 || c.Server.ListenPort > 65535 {
		return fmt.Errorf("invalid listen_port %d", c.Server.ListenPort)
	}
	switch c.Source.Backend {
	case BackendMemory:
	case BackendSQLite, BackendBadger:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for backend %q", c.Source.Backend)
		}
	default:
		return fmt.Errorf("unknown source backend %q", c.Source.Backend)
	}
	if c.Pipeline.ChunkSize <= 0 || c.Pipeline.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk_size must be in [1, %d], got %d", MaxChunkSize, c.Pipeline.ChunkSize)
	}
	if c.Pipeline.DecodeWorkers <= 0 || c.Pipeline.DecodeWorkers > MaxDecodeWorkers {
		return fmt.Errorf("decode_workers must be in [1, %d], got %d", MaxDecodeWorkers, c.Pipeline.DecodeWorkers)
	}
	if c.Pipeline.GapThresholdSeconds <= 0 {
		return fmt.Errorf("gap_threshold_seconds must be positive, got %d", c.Pipeline.GapThresholdSeconds)
	}
	if _, err := reduce.ParseStrategy(c.Pipeline.Strategy); err != nil {
		return err
	}
	if _, err := waveform.ParseLayout(c.Pipeline.Layout); err != nil {
		return err
	}
	if _, err := c.Pipeline.Unit(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Addr is the listen address in host:port form
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.ListenAddress, s.ListenPort)
}

// GapThreshold returns the segmentation threshold as a duration
func (p PipelineConfig) GapThreshold() time.Duration {
	return time.Duration(p.GapThresholdSeconds) * time.Second
}

// Unit maps timestamp_unit to a duration
func (p PipelineConfig) Unit() (time.Duration, error) {
	switch p.TimestampUnit {
	case "", "ms":
		return time.Millisecond, nil
	case "s":
		return time.Second, nil
	case "us":
		return time.Microsecond, nil
	default:
		return 0, fmt.Errorf("unknown timestamp_unit %q", p.TimestampUnit)
	}
}

// getEnvInt64 gets an int64 from environment variable or returns default
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		logrus.WithFields(logrus.Fields{"key": key, "value": val}).
			Warnf("invalid value, using %d", defaultValue)
	}
	return defaultValue
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
