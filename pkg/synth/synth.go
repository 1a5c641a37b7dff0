// Package synth generates realistic logger records: three phase voltage and
// current sine waves, encoded exactly as the loggers store them.
package synth

import (
	"math"
	"math/rand"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

// DefaultCalibration fits 230 V / 10 A mains into the ADC range
var DefaultCalibration = waveform.Calibration{
	VoltageMultiplier: 400,
	VoltageDivider:    1,
	CurrentMultiplier: 20,
	CurrentDivider:    1,
}

// Options controls the generated records
type Options struct {
	Count    int
	Start    int64 // first timestamp, ms
	Interval int64 // ms between records
	Channels int
	Samples  int // samples per record
	Periods  float64

	VoltageAmplitude float64
	CurrentAmplitude float64
	Noise            float64 // relative amplitude of uniform noise

	// EmptyEvery makes every Nth record carry zero samples
	EmptyEvery int
	// GapEvery inserts GapDuration ms before every Nth record
	GapEvery    int
	GapDuration int64

	Layout      waveform.Layout
	Calibration waveform.Calibration
	Seed        int64
}

// Defaults returns options for n one-minute records of a 6-channel logger.
func Defaults(n int) Options {
	return Options{
		Count:            n,
		Start:            1_720_000_000_000,
		Interval:         60_000,
		Channels:         6,
		Samples:          64,
		Periods:          2,
		VoltageAmplitude: 325,
		CurrentAmplitude: 10,
		Layout:           waveform.LayoutColumns,
		Calibration:      DefaultCalibration,
		Seed:             1,
	}
}

// Generate builds opts.Count records in ascending timestamp order.
func Generate(opts Options) []record.Record {
	if opts.Channels <= 0 {
		opts.Channels = 6
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	out := make([]record.Record, 0, opts.Count)
	ts := opts.Start
	for n := 0; n < opts.Count; n++ {
		if n > 0 {
			ts += opts.Interval
			if opts.GapEvery > 0 && n%opts.GapEvery == 0 {
				ts += opts.GapDuration
			}
		}

		samples := opts.Samples
		if opts.EmptyEvery > 0 && (n+1)%opts.EmptyEvery == 0 {
			samples = 0
		}

		out = append(out, record.Record{
			Timestamp:   ts,
			Mask:        record.MaskOf(opts.Channels),
			SampleCount: samples,
			Block:       encode(opts, samples, rng),
			Calibration: opts.Calibration,
		})
	}
	return out
}

func encode(opts Options, samples int, rng *rand.Rand) []byte {
	raw := make([][]int32, samples)
	for i := range raw {
		raw[i] = make([]int32, opts.Channels)
		phase := 2 * math.Pi * opts.Periods * float64(i) / float64(samples)
		for j := 0; j < opts.Channels; j++ {
			amp := opts.VoltageAmplitude
			if j >= waveform.VoltageChannels {
				amp = opts.CurrentAmplitude
			}
			// phases A, B, C are 120 degrees apart
			shift := 2 * math.Pi / 3 * float64(j%waveform.VoltageChannels)
			v := amp * math.Sin(phase-shift)
			if opts.Noise > 0 {
				v += amp * opts.Noise * (2*rng.Float64() - 1)
			}
			raw[i][j] = waveform.RawFromValue(v, j, opts.Calibration)
		}
	}

	block := waveform.EncodeBlock(raw, waveform.DefaultPreambleSize)
	if opts.Layout == waveform.LayoutHeader {
		waveform.PutHeader(block, samples)
	}
	return block
}
