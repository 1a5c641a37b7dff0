package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/reduce"
	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/trend"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

const (
	DefaultChunkSize       = 100
	DefaultDecodeWorkers   = 4
	DefaultEstimatedChunks = 10
)

var ErrClosed = errors.New("pipeline closed")

// Callbacks receive run events. They are called from the run goroutine,
// never while the pipeline lock is held, and may be nil.
type Callbacks struct {
	OnProgress       func(sourceID string, percent float64)
	OnPointsAppended func(sourceID string, points []trend.Point)
	OnSeriesReady    func(sourceID string, points []trend.Point, result segment.Result)
	OnError          func(sourceID string, kind ErrorKind, err error)
	OnStateChange    func(sourceID string, state State)
}

// Config controls chunking, decoding and reporting
type Config struct {
	ChunkSize     int
	DecodeWorkers int
	Strategy      reduce.Strategy
	Layout        waveform.Layout
	Segment       segment.Options

	// EstimatedChunks scales progress when the source cannot count records
	EstimatedChunks int

	Callbacks  Callbacks
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.DecodeWorkers <= 0 {
		c.DecodeWorkers = DefaultDecodeWorkers
	}
	if c.Strategy == "" {
		c.Strategy = reduce.RMS
	}
	if c.Layout == "" {
		c.Layout = waveform.LayoutColumns
	}
	if c.EstimatedChunks <= 0 {
		c.EstimatedChunks = DefaultEstimatedChunks
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Stats counts the records of the current run
type Stats struct {
	Total     int     `json:"total"` // -1 when the source could not count
	Processed int     `json:"processed"`
	Decoded   int     `json:"decoded"`
	Empty     int     `json:"empty"`
	Skipped   int     `json:"skipped"`
	Chunks    int     `json:"chunks"`
	Progress  float64 `json:"progress"`
}

// Snapshot is a consistent copy of the pipeline at one instant
type Snapshot struct {
	State      State           `json:"state"`
	SourceID   string          `json:"source_id"`
	RunID      string          `json:"run_id"`
	Generation uint64          `json:"generation"`
	Stats      Stats           `json:"stats"`
	Error      string          `json:"error,omitempty"`
	Points     []trend.Point   `json:"points"`
	Result     *segment.Result `json:"result,omitempty"`
}

// Pipeline drives one trend run at a time over a record source. Chunks are
// fetched strictly in order, decoded on a worker pool and appended to the
// series. Starting a run for another source invalidates the current one by
// bumping the generation; a stale run may finish its in-flight step but can
// no longer touch the series.
type Pipeline struct {
	src     source.Source
	cfg     Config
	metrics *metrics

	mu       sync.Mutex
	gen      uint64
	state    State
	sourceID string
	runID    string
	cancel   context.CancelFunc
	done     chan struct{}
	stats    Stats
	errMsg   string
	result   *segment.Result
	closed   bool

	series trend.Series
	wg     sync.WaitGroup
}

// New creates an idle pipeline reading from src
func New(src source.Source, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		src:     src,
		cfg:     cfg,
		metrics: newMetrics(cfg.Registerer),
	}
}

// Begin starts a run for sourceID. A run already active for the same source
// is left alone; a run for another source is cancelled and its series dropped.
func (p *Pipeline) Begin(sourceID string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state.Active() && p.sourceID == sourceID {
		p.mu.Unlock()
		return nil
	}

	superseded := ""
	if p.state.Active() {
		superseded = p.sourceID
		p.cancelLocked()
	}

	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	runID := ulid.Make().String()

	p.cancel = cancel
	p.done = done
	p.sourceID = sourceID
	p.runID = runID
	p.state = Fetching
	p.stats = Stats{}
	p.errMsg = ""
	p.result = nil
	p.series.Reset()

	p.wg.Add(1)
	p.mu.Unlock()

	if superseded != "" {
		p.emitState(superseded, Cancelled)
	}

	go p.run(ctx, gen, sourceID, runID, done)
	return nil
}

// Stop cancels the active run, if any. The series keeps what was merged so far.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.state.Active() {
		p.mu.Unlock()
		return
	}
	sourceID := p.sourceID
	p.gen++
	p.cancelLocked()
	p.state = Idle
	p.mu.Unlock()

	p.emitState(sourceID, Cancelled)
	p.emitState(sourceID, Idle)
}

// cancelLocked must be called with p.mu held
func (p *Pipeline) cancelLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.metrics.runs.WithLabelValues("cancelled").Inc()
	p.cfg.Logger.WithFields(logrus.Fields{
		"source": p.sourceID,
		"run":    p.runID,
	}).Info("trend run cancelled")
}

// Wait blocks until no run is active or ctx is done
func (p *Pipeline) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		done := p.done
		active := p.state.Active()
		p.mu.Unlock()

		if !active || done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the active run and waits for every run goroutine, including
// superseded ones, to exit.
func (p *Pipeline) Close() error {
	p.Stop()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// Snapshot returns a copy of the current state and series
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		State:      p.state,
		SourceID:   p.sourceID,
		RunID:      p.runID,
		Generation: p.gen,
		Stats:      p.stats,
		Error:      p.errMsg,
		Points:     p.series.Snapshot(),
	}
	if p.result != nil {
		r := *p.result
		snap.Result = &r
	}
	return snap
}

// Source returns the source the pipeline reads from
func (p *Pipeline) Source() source.Source {
	return p.src
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

func (p *Pipeline) run(ctx context.Context, gen uint64, sourceID, runID string, done chan struct{}) {
	defer p.wg.Done()
	defer close(done)

	log := p.cfg.Logger.WithFields(logrus.Fields{"source": sourceID, "run": runID})
	started := time.Now()
	log.Info("trend run started")

	total, err := p.src.Count(ctx, sourceID)
	countKnown := true
	if errors.Is(err, source.ErrCountUnknown) {
		countKnown = false
		total = -1
		err = nil
	}
	if err != nil {
		p.fail(ctx, gen, sourceID, KindSource, err, log)
		return
	}
	if !p.update(gen, func() { p.stats.Total = total }) {
		return
	}
	if countKnown && total == 0 {
		p.complete(gen, sourceID, log, started)
		return
	}

	cal, err := p.src.Calibration(ctx, sourceID)
	if err != nil {
		p.fail(ctx, gen, sourceID, KindSource, err, log)
		return
	}
	if err := cal.Validate(); err != nil {
		p.fail(ctx, gen, sourceID, KindCalibration, err, log)
		return
	}

	size := p.cfg.ChunkSize
	processed := 0
	for k := 0; ; k++ {
		chunkStart := time.Now()
		offset := k * size

		if !p.transition(gen, sourceID, Fetching) {
			return
		}
		recs, err := p.src.FetchChunk(ctx, sourceID, offset, size)
		if err != nil {
			p.fail(ctx, gen, sourceID, KindSource, err, log)
			return
		}

		if !p.transition(gen, sourceID, Decoding) {
			return
		}
		res, err := p.decodeChunk(ctx, recs, cal, log.WithField("chunk", k))
		if err != nil {
			// only cancellation stops a decode
			return
		}

		if !p.transition(gen, sourceID, Merging) {
			return
		}
		processed += len(recs)
		var percent float64
		merged := p.update(gen, func() {
			p.series.Append(res.points...)
			p.stats.Processed = processed
			p.stats.Decoded += res.decoded
			p.stats.Empty += res.empty
			p.stats.Skipped += res.skipped
			p.stats.Chunks = k + 1
			percent = p.progress(processed, total, k+1)
			p.stats.Progress = percent
		})
		if !merged {
			return
		}

		p.metrics.records.WithLabelValues("decoded").Add(float64(res.decoded))
		p.metrics.records.WithLabelValues("empty").Add(float64(res.empty))
		p.metrics.records.WithLabelValues("skipped").Add(float64(res.skipped))
		p.metrics.chunks.Inc()
		p.metrics.chunkDuration.Observe(time.Since(chunkStart).Seconds())

		log.WithFields(logrus.Fields{
			"chunk":   k,
			"records": len(recs),
			"skipped": res.skipped,
		}).Debug("chunk merged")

		if cb := p.cfg.Callbacks.OnPointsAppended; cb != nil && len(res.points) > 0 {
			cb(sourceID, res.points)
		}
		if cb := p.cfg.Callbacks.OnProgress; cb != nil {
			cb(sourceID, percent)
		}

		if len(recs) < size || (countKnown && processed >= total) {
			break
		}
	}

	p.complete(gen, sourceID, log, started)
}

// progress is processed/total in percent, or chunk index over the estimated
// chunk count when total is unknown. It stays below 100 until the run is done.
func (p *Pipeline) progress(processed, total, chunks int) float64 {
	var pct float64
	if total > 0 {
		pct = 100 * float64(processed) / float64(total)
	} else {
		est := p.cfg.EstimatedChunks
		for chunks >= est {
			est *= 2
		}
		pct = 100 * float64(chunks) / float64(est)
	}
	return math.Min(pct, 99.9)
}

// update runs fn under the lock if gen is still current
func (p *Pipeline) update(gen uint64, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	fn()
	return true
}

func (p *Pipeline) transition(gen uint64, sourceID string, state State) bool {
	if !p.update(gen, func() { p.state = state }) {
		return false
	}
	p.emitState(sourceID, state)
	return true
}

func (p *Pipeline) complete(gen uint64, sourceID string, log logrus.FieldLogger, started time.Time) {
	points := p.series.Snapshot()
	result := segment.Segment(points, p.cfg.Segment)

	ok := p.update(gen, func() {
		p.result = &result
		p.state = Done
		p.stats.Progress = 100
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	})
	if !ok {
		return
	}

	p.metrics.runs.WithLabelValues("done").Inc()
	log.WithFields(logrus.Fields{
		"points":   len(points),
		"segments": len(result.Segments),
		"gaps":     len(result.Gaps),
		"elapsed":  time.Since(started).String(),
	}).Info("trend run finished")

	p.emitState(sourceID, Done)
	if cb := p.cfg.Callbacks.OnProgress; cb != nil {
		cb(sourceID, 100)
	}
	if cb := p.cfg.Callbacks.OnSeriesReady; cb != nil {
		cb(sourceID, points, result)
	}
}

// fail reports err once, unless the run was cancelled in the meantime
func (p *Pipeline) fail(ctx context.Context, gen uint64, sourceID string, kind ErrorKind, err error, log logrus.FieldLogger) {
	if ctx.Err() != nil {
		return
	}
	ok := p.update(gen, func() {
		p.state = Error
		p.errMsg = err.Error()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	})
	if !ok {
		return
	}

	p.metrics.runs.WithLabelValues("error").Inc()
	log.WithFields(logrus.Fields{
		logrus.ErrorKey: err,
		"kind":          kind,
	}).Error("trend run failed")

	p.emitState(sourceID, Error)
	if cb := p.cfg.Callbacks.OnError; cb != nil {
		cb(sourceID, kind, err)
	}
}

func (p *Pipeline) emitState(sourceID string, state State) {
	if cb := p.cfg.Callbacks.OnStateChange; cb != nil {
		cb(sourceID, state)
	}
}
