// Package segment splits a trend series into time-contiguous segments and
// annotates the holes between and inside them.
package segment

import (
	"time"

	"github.com/nicktill/wavetrend/pkg/trend"
)

const (
	// DefaultThreshold is the largest step between points that still counts as contiguous
	DefaultThreshold = 900 * time.Second

	// DefaultTimestampUnit is the unit of trend.Point.Timestamp
	DefaultTimestampUnit = time.Millisecond

	// AllChannels is the Channel of a MissingRegion where every channel was invalid
	AllChannels = -1
)

// Options configures Segment. Zero fields take the defaults.
type Options struct {
	Threshold     time.Duration
	TimestampUnit time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.TimestampUnit <= 0 {
		o.TimestampUnit = DefaultTimestampUnit
	}
	return o
}

// Segment is a contiguous run of points. First and Last are inclusive indexes
// into the input series.
type Segment struct {
	First int   `json:"first"`
	Last  int   `json:"last"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of points in the segment.
func (s Segment) Len() int {
	return s.Last - s.First + 1
}

// GapRegion spans two adjacent points further apart than the threshold.
type GapRegion struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// MissingRegion spans a run of invalid values on one channel, or on all
// channels when Channel is AllChannels. Start and End are the timestamps of
// the first and last invalid point.
type MissingRegion struct {
	Channel int   `json:"channel"`
	Start   int64 `json:"start"`
	End     int64 `json:"end"`
}

// Result is the output of Segment.
type Result struct {
	Segments []Segment       `json:"segments"`
	Gaps     []GapRegion     `json:"gaps"`
	Missing  []MissingRegion `json:"missing"`
}

// ChannelMissing returns the missing regions of one channel.
func (r Result) ChannelMissing(ch int) []MissingRegion {
	var out []MissingRegion
	for _, m := range r.Missing {
		if m.Channel == ch {
			out = append(out, m)
		}
	}
	return out
}

// Segment partitions points, assumed ordered by timestamp.
func Segment(points []trend.Point, opts Options) Result {
	opts = opts.withDefaults()

	var res Result
	if len(points) == 0 {
		return res
	}
	if len(points) < 2 {
		res.Segments = []Segment{{First: 0, Last: 0, Start: points[0].Timestamp, End: points[0].Timestamp}}
		return res
	}

	first := 0
	for i := 1; i < len(points); i++ {
		if opts.exceeds(points[i-1].Timestamp, points[i].Timestamp) {
			res.Segments = append(res.Segments, span(points, first, i-1))
			res.Gaps = append(res.Gaps, GapRegion{Start: points[i-1].Timestamp, End: points[i].Timestamp})
			first = i
		}
	}
	res.Segments = append(res.Segments, span(points, first, len(points)-1))

	width := 0
	for _, p := range points {
		if len(p.Values) > width {
			width = len(p.Values)
		}
	}
	for ch := 0; ch < width; ch++ {
		res.Missing = append(res.Missing, missingRuns(points, ch, opts, func(p trend.Point) bool {
			return p.Valid(ch)
		})...)
	}
	res.Missing = append(res.Missing, missingRuns(points, AllChannels, opts, func(p trend.Point) bool {
		for c := range p.Values {
			if p.Valid(c) {
				return true
			}
		}
		return false
	})...)

	return res
}

func span(points []trend.Point, first, last int) Segment {
	return Segment{First: first, Last: last, Start: points[first].Timestamp, End: points[last].Timestamp}
}

// exceeds compares in timestamp units first so large timestamps never
// overflow the Duration multiplication.
func (o Options) exceeds(a, b int64) bool {
	return time.Duration(b-a)*o.TimestampUnit > o.Threshold
}

func missingRuns(points []trend.Point, ch int, opts Options, valid func(trend.Point) bool) []MissingRegion {
	var out []MissingRegion
	start := -1
	closeRun := func(last int) {
		s, e := points[start].Timestamp, points[last].Timestamp
		if !opts.exceeds(s, e) {
			out = append(out, MissingRegion{Channel: ch, Start: s, End: e})
		}
		start = -1
	}

	for i, p := range points {
		ok := valid(p)
		switch {
		case !ok && start < 0:
			start = i
		case ok && start >= 0:
			closeRun(i - 1)
		}
	}
	if start >= 0 {
		closeRun(len(points) - 1)
	}
	return out
}
