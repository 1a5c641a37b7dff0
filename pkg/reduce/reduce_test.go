package reduce

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/waveform"
)

func matrixOf(cols ...[]float64) *waveform.Matrix {
	m := waveform.NewMatrix(len(cols[0]), len(cols))
	for j, col := range cols {
		for i, v := range col {
			m.Set(i, j, v)
		}
	}
	return m
}

func TestReduce_KnownValues(t *testing.T) {
	m := matrixOf(
		[]float64{3, -3, 3, -3},
		[]float64{1, 2, 3, 4},
	)

	tests := []struct {
		strategy Strategy
		want     []float64
	}{
		{strategy: RMS, want: []float64{3, math.Sqrt(30.0 / 4)}},
		{strategy: PeakHalfAmplitude, want: []float64{3, 1.5}},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got := tt.strategy.Reduce(m)
			require.Len(t, got, 2)
			for j := range got {
				require.InDelta(t, tt.want[j], got[j], 1e-12)
			}
		})
	}
}

func TestReduce_Sinusoid(t *testing.T) {
	const n = 1000
	amp := 325.0
	col := make([]float64, n)
	for i := range col {
		col[i] = amp * math.Sin(2*math.Pi*float64(i)/n)
	}
	m := matrixOf(col)

	require.InDelta(t, amp/math.Sqrt2, RMS.Reduce(m)[0], 1e-9)
	require.InDelta(t, amp, PeakHalfAmplitude.Reduce(m)[0], 1e-9)
}

func TestReduce_AllZero(t *testing.T) {
	m := waveform.NewMatrix(10, 3)
	for _, s := range []Strategy{RMS, PeakHalfAmplitude} {
		require.Equal(t, []float64{0, 0, 0}, s.Reduce(m))
	}
}

func TestReduce_EmptyMatrixIsNaN(t *testing.T) {
	m := waveform.NewMatrix(0, 4)
	for _, s := range []Strategy{RMS, PeakHalfAmplitude} {
		got := s.Reduce(m)
		require.Len(t, got, 4)
		for _, v := range got {
			require.True(t, math.IsNaN(v))
		}
	}
}

func TestReduceTo_PadsWithNaN(t *testing.T) {
	m := matrixOf([]float64{2, -2}, []float64{1, 1})

	got := RMS.ReduceTo(m, 6)
	require.Len(t, got, 6)
	require.InDelta(t, 2, got[0], 1e-12)
	require.InDelta(t, 1, got[1], 1e-12)
	for _, v := range got[2:] {
		require.True(t, math.IsNaN(v))
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "", want: RMS},
		{in: "RMS", want: RMS},
		{in: "peak", want: PeakHalfAmplitude},
		{in: "amplitude", want: PeakHalfAmplitude},
		{in: "median", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
