// Package reduce collapses a decoded waveform matrix to one scalar per channel.
package reduce

import (
	"fmt"
	"math"
	"strings"

	"github.com/nicktill/wavetrend/pkg/waveform"
)

// Strategy is the per-channel summary statistic applied to every record of a run
type Strategy string

const (
	// PeakHalfAmplitude is (max - min) / 2, the peak amplitude of a symmetric wave
	PeakHalfAmplitude Strategy = "peak"

	// RMS is sqrt(mean(x^2))
	RMS Strategy = "rms"
)

// ParseStrategy maps a config or query string to a Strategy.
// Empty selects RMS.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RMS:
		return RMS, nil
	case PeakHalfAmplitude, "peak_half_amplitude", "amplitude":
		return PeakHalfAmplitude, nil
	default:
		return "", fmt.Errorf("unknown reduction strategy %q", s)
	}
}

// Reduce returns one value per channel of m. A matrix with no samples yields
// NaN for every channel.
func (s Strategy) Reduce(m *waveform.Matrix) []float64 {
	out := make([]float64, m.Channels)
	if m.Samples == 0 {
		for j := range out {
			out[j] = math.NaN()
		}
		return out
	}

	for j := 0; j < m.Channels; j++ {
		switch s {
		case PeakHalfAmplitude:
			out[j] = peakHalf(m, j)
		default:
			out[j] = rms(m, j)
		}
	}
	return out
}

// ReduceTo is Reduce padded with NaN (or truncated) to exactly width values.
func (s Strategy) ReduceTo(m *waveform.Matrix, width int) []float64 {
	vals := s.Reduce(m)
	if len(vals) >= width {
		return vals[:width]
	}
	out := make([]float64, width)
	copy(out, vals)
	for j := len(vals); j < width; j++ {
		out[j] = math.NaN()
	}
	return out
}

func peakHalf(m *waveform.Matrix, j int) float64 {
	lo, hi := m.At(0, j), m.At(0, j)
	for i := 1; i < m.Samples; i++ {
		v := m.At(i, j)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return (hi - lo) / 2
}

func rms(m *waveform.Matrix, j int) float64 {
	var sum float64
	for i := 0; i < m.Samples; i++ {
		v := m.At(i, j)
		sum += v * v
	}
	return math.Sqrt(sum / float64(m.Samples))
}
