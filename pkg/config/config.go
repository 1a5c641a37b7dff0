package config

import "time"

// Server defaults
const (
	DefaultListenAddress = "0.0.0.0"
	DefaultPort          = 8080
	DefaultMaxMemoryMB   = 48
	DefaultDataPath      = "./data/wavetrend"
	DefaultConfigFile    = "wavetrend.toml"
)

// HTTP server timeouts
const (
	ServerReadTimeout = 10 * time.Second
	// series exports of long runs can take a while to stream
	ServerWriteTimeout = 60 * time.Second
	ShutdownTimeout    = 30 * time.Second
	RequestTimeout     = 15 * time.Second
)

// Background tasks
const (
	BadgerGCInterval     = 10 * time.Minute
	BadgerGCDiscardRatio = 0.5
	HealthStaleAfter     = 24 * time.Hour
	HealthMaxFailures    = 3
)

// Pipeline defaults
const (
	DefaultChunkSize      = 100
	DefaultDecodeWorkers  = 4
	DefaultStrategy       = "rms"
	DefaultLayout         = "columns"
	DefaultGapThreshold   = 900 // seconds
	DefaultTimestampUnit  = "ms"
	MaxChunkSize          = 10000
	MaxDecodeWorkers      = 64
	SeriesDefaultFormat   = "json"
	TimestampListMaxRange = 366 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
