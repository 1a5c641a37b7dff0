package downsample

import (
	"fmt"
	"math"
	"time"

	"github.com/nicktill/wavetrend/pkg/trend"
)

// Resolution names a bucket width
type Resolution string

const (
	ResolutionRaw Resolution = "raw" // Original points
	Resolution1m  Resolution = "1m"  // 1-minute buckets
	Resolution5m  Resolution = "5m"  // 5-minute buckets
	Resolution1h  Resolution = "1h"  // 1-hour buckets
)

// ParseResolution accepts the named resolutions or any Go duration string.
func ParseResolution(s string) (time.Duration, error) {
	switch Resolution(s) {
	case "", ResolutionRaw:
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid bucket %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid bucket %q: negative", s)
	}
	return d, nil
}

// Aggregate holds the statistics of one channel within a bucket. NaN values
// are not counted.
type Aggregate struct {
	Sum   float64 `json:"sum"`
	Count uint64  `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Add folds v into the aggregate; NaN is ignored
func (a *Aggregate) Add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if a.Count == 0 || v < a.Min {
		a.Min = v
	}
	if a.Count == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += v
	a.Count++
}

// Average calculates the mean value, NaN for an empty aggregate
func (a Aggregate) Average() float64 {
	if a.Count == 0 {
		return math.NaN()
	}
	return a.Sum / float64(a.Count)
}

// Bucket is one time window of a downsampled series
type Bucket struct {
	Timestamp int64       `json:"timestamp"` // window start, same unit as the points
	Points    int         `json:"points"`
	Channels  []Aggregate `json:"channels"`
}

// Series groups points into fixed windows of width bucket. unit is the
// timestamp unit of the points (milliseconds when zero). Points must be
// ordered; empty windows produce no bucket.
func Series(points []trend.Point, bucket, unit time.Duration) []Bucket {
	if unit <= 0 {
		unit = time.Millisecond
	}
	width := int64(bucket / unit)
	if width <= 0 || len(points) == 0 {
		return nil
	}

	var out []Bucket
	var cur *Bucket
	for _, p := range points {
		start := floorDiv(p.Timestamp, width) * width
		if cur == nil || cur.Timestamp != start {
			out = append(out, Bucket{Timestamp: start, Channels: make([]Aggregate, len(p.Values))})
			cur = &out[len(out)-1]
		}
		cur.Points++
		for ch, v := range p.Values {
			if ch < len(cur.Channels) {
				cur.Channels[ch].Add(v)
			}
		}
	}
	return out
}

// Averages converts buckets back to trend points holding each channel's mean.
func Averages(buckets []Bucket) []trend.Point {
	out := make([]trend.Point, len(buckets))
	for i, b := range buckets {
		vals := make([]float64, len(b.Channels))
		for ch, agg := range b.Channels {
			vals[ch] = agg.Average()
		}
		out[i] = trend.Point{Timestamp: b.Timestamp, Values: vals}
	}
	return out
}

// floorDiv rounds toward negative infinity
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
