package pipeline

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	records       *prometheus.CounterVec
	chunks        prometheus.Counter
	chunkDuration prometheus.Histogram
	runs          *prometheus.CounterVec
}

// newMetrics builds the pipeline collectors and registers them with reg
// when it is non-nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wavetrend",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Records processed by outcome (decoded, empty, skipped).",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wavetrend",
			Subsystem: "pipeline",
			Name:      "chunks_total",
			Help:      "Chunks merged into a trend series.",
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wavetrend",
			Subsystem: "pipeline",
			Name:      "chunk_duration_seconds",
			Help:      "Time to fetch, decode and merge one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wavetrend",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome (done, error, cancelled).",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.records, m.chunks, m.chunkDuration, m.runs)
	}
	return m
}
