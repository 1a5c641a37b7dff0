package synth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/reduce"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

func TestGenerate_DecodesToConfiguredAmplitude(t *testing.T) {
	opts := Defaults(3)
	recs := Generate(opts)
	require.Len(t, recs, 3)

	for i, rec := range recs {
		require.Equal(t, opts.Start+int64(i)*opts.Interval, rec.Timestamp)
		require.Equal(t, 6, rec.ChannelCount())

		m, err := rec.Decode(waveform.LayoutColumns, waveform.Calibration{})
		require.NoError(t, err)

		rms := reduce.RMS.Reduce(m)
		require.InDelta(t, opts.VoltageAmplitude/math.Sqrt2, rms[0], 0.5)
		require.InDelta(t, opts.CurrentAmplitude/math.Sqrt2, rms[3], 0.05)
	}
}

func TestGenerate_EmptyAndGaps(t *testing.T) {
	opts := Defaults(6)
	opts.EmptyEvery = 3
	opts.GapEvery = 4
	opts.GapDuration = 3_600_000

	recs := Generate(opts)
	require.Equal(t, 0, recs[2].SampleCount)
	require.Equal(t, 0, recs[5].SampleCount)
	require.Equal(t, opts.Samples, recs[0].SampleCount)
	require.Equal(t, opts.Interval+opts.GapDuration, recs[4].Timestamp-recs[3].Timestamp)

	_, err := recs[2].Decode(waveform.LayoutColumns, waveform.Calibration{})
	require.ErrorIs(t, err, waveform.ErrEmptySignal)
}

func TestGenerate_HeaderLayout(t *testing.T) {
	opts := Defaults(1)
	opts.Layout = waveform.LayoutHeader

	rec := Generate(opts)[0]
	n, err := waveform.LayoutHeader.SampleCount(rec.Block, 0)
	require.NoError(t, err)
	require.Equal(t, opts.Samples, n)
}
