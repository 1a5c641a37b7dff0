package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/config"
	"github.com/nicktill/wavetrend/pkg/pipeline"
	"github.com/nicktill/wavetrend/pkg/reduce"
	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/source/badger"
	"github.com/nicktill/wavetrend/pkg/source/memory"
	"github.com/nicktill/wavetrend/pkg/source/sqlite"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

// OpenStore opens the record store selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.SourceConfig, log logrus.FieldLogger) (source.Store, error) {
	log = log.WithFields(logrus.Fields{"backend": cfg.Backend, "path": cfg.Path})

	switch cfg.Backend {
	case config.BackendMemory:
		log.Info("using in-memory record store")
		return memory.New(), nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.New(ctx, sqlite.Config{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		log.Info("sqlite record store opened")
		return store, nil

	case config.BackendBadger:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		start := time.Now()
		store, err := badger.New(badger.Config{Path: cfg.Path, MaxMemoryMB: cfg.MaxMemoryMB})
		if err != nil {
			return nil, err
		}
		log.WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).
			Info("badger record store opened")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown source backend %q", cfg.Backend)
	}
}

// PipelineConfig translates the pipeline section into a pipeline.Config.
// Callbacks, logger and registerer are left for the caller.
func PipelineConfig(cfg config.PipelineConfig) (pipeline.Config, error) {
	strategy, err := reduce.ParseStrategy(cfg.Strategy)
	if err != nil {
		return pipeline.Config{}, err
	}
	layout, err := waveform.ParseLayout(cfg.Layout)
	if err != nil {
		return pipeline.Config{}, err
	}
	unit, err := cfg.Unit()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		ChunkSize:     cfg.ChunkSize,
		DecodeWorkers: cfg.DecodeWorkers,
		Strategy:      strategy,
		Layout:        layout,
		Segment: segment.Options{
			Threshold:     cfg.GapThreshold(),
			TimestampUnit: unit,
		},
	}, nil
}
