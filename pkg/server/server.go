package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/config"
	"github.com/nicktill/wavetrend/pkg/export"
	"github.com/nicktill/wavetrend/pkg/pipeline"
	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/server/monitor"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/trend"
)

// Version is reported by the health endpoint
var Version = "dev"

// Options configures a Server
type Options struct {
	Pipeline pipeline.Config
	Logger   logrus.FieldLogger

	// Registry collects pipeline and process metrics (default: a new registry)
	Registry *prometheus.Registry

	// Port is used to build the allowed CORS origins
	Port int
}

// Server owns the trend pipeline of one process and exposes it over HTTP
type Server struct {
	store    source.Store
	pipe     *pipeline.Pipeline
	hub      *Hub
	monitor  *monitor.RunMonitor
	exports  *export.Handler
	registry *prometheus.Registry
	log      logrus.FieldLogger
	port     int
	started  time.Time
}

// New wires the pipeline to the hub and the run monitor
func New(store source.Store, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	s := &Server{
		store:    store,
		hub:      NewHub(log),
		monitor:  monitor.NewRunMonitor(config.HealthMaxFailures),
		exports:  export.NewHandler(store, store, log.WithField("component", "export")),
		registry: reg,
		log:      log,
		port:     opts.Port,
		started:  time.Now(),
	}

	cfg := opts.Pipeline
	cfg.Logger = log.WithField("component", "pipeline")
	cfg.Registerer = reg
	cfg.Callbacks = s.callbacks(cfg.Callbacks)
	s.pipe = pipeline.New(store, cfg)

	return s
}

// callbacks chains hub broadcasts and run monitoring in front of extra
func (s *Server) callbacks(extra pipeline.Callbacks) pipeline.Callbacks {
	hub := s.hub.Callbacks()
	return pipeline.Callbacks{
		OnStateChange: func(id string, state pipeline.State) {
			hub.OnStateChange(id, state)
			if extra.OnStateChange != nil {
				extra.OnStateChange(id, state)
			}
		},
		OnProgress: func(id string, pct float64) {
			hub.OnProgress(id, pct)
			if extra.OnProgress != nil {
				extra.OnProgress(id, pct)
			}
		},
		OnPointsAppended: func(id string, points []trend.Point) {
			hub.OnPointsAppended(id, points)
			if extra.OnPointsAppended != nil {
				extra.OnPointsAppended(id, points)
			}
		},
		OnSeriesReady: func(id string, points []trend.Point, result segment.Result) {
			s.monitor.RecordSuccess(id, len(points))
			hub.OnSeriesReady(id, points, result)
			if extra.OnSeriesReady != nil {
				extra.OnSeriesReady(id, points, result)
			}
		},
		OnError: func(id string, kind pipeline.ErrorKind, err error) {
			s.monitor.RecordFailure(id, err)
			hub.OnError(id, kind, err)
			if extra.OnError != nil {
				extra.OnError(id, kind, err)
			}
		},
	}
}

// Pipeline returns the trend pipeline
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipe
}

// Hub returns the event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Monitor returns the run monitor
func (s *Server) Monitor() *monitor.RunMonitor {
	return s.monitor
}

// Run drives the hub until ctx is done
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Close stops the active run and waits for its goroutines. The store is
// owned by the caller.
func (s *Server) Close() error {
	return s.pipe.Close()
}
