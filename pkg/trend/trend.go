// Package trend holds the time series produced by a pipeline run.
package trend

import (
	"encoding/json"
	"math"
	"sync"
)

// MaxChannels is the width of every trend point
const MaxChannels = 6

// ChannelNames labels the trend columns: three phase voltages then three phase currents.
var ChannelNames = [MaxChannels]string{"U_A", "U_B", "U_C", "I_A", "I_B", "I_C"}

// Point is the reduced summary of one record. A NaN value marks a channel
// with no valid data.
type Point struct {
	Timestamp int64     `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// NaNPoint returns a point with every channel invalid.
func NaNPoint(ts int64) Point {
	vals := make([]float64, MaxChannels)
	for i := range vals {
		vals[i] = math.NaN()
	}
	return Point{Timestamp: ts, Values: vals}
}

// Valid reports whether channel ch holds a finite value.
func (p Point) Valid(ch int) bool {
	if ch < 0 || ch >= len(p.Values) {
		return false
	}
	v := p.Values[ch]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type pointJSON struct {
	Timestamp int64      `json:"timestamp"`
	Values    []*float64 `json:"values"`
}

// MarshalJSON writes invalid channels as null since JSON has no NaN.
func (p Point) MarshalJSON() ([]byte, error) {
	out := pointJSON{Timestamp: p.Timestamp, Values: make([]*float64, len(p.Values))}
	for i := range p.Values {
		if p.Valid(i) {
			v := p.Values[i]
			out.Values[i] = &v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads null channels back as NaN.
func (p *Point) UnmarshalJSON(data []byte) error {
	var in pointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Timestamp = in.Timestamp
	p.Values = make([]float64, len(in.Values))
	for i, v := range in.Values {
		if v == nil {
			p.Values[i] = math.NaN()
		} else {
			p.Values[i] = *v
		}
	}
	return nil
}

// Series is an append-only, insertion-ordered list of points, safe for
// concurrent readers while one writer appends.
type Series struct {
	mu     sync.RWMutex
	points []Point
}

// Append adds points to the end of the series.
func (s *Series) Append(points ...Point) {
	s.mu.Lock()
	s.points = append(s.points, points...)
	s.mu.Unlock()
}

// Reset drops every point.
func (s *Series) Reset() {
	s.mu.Lock()
	s.points = nil
	s.mu.Unlock()
}

// Len returns the number of points.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Snapshot returns a copy of the current points.
func (s *Series) Snapshot() []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}
