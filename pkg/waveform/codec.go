package waveform

import (
	"errors"
	"fmt"
	"math"
)

// ADC constants shared by every logger firmware revision.
const (
	ADCFullScaleVolts = 0.93
	ADCRawMax         = 1 << 21

	// CellSize is the width of one encoded channel sample in bytes
	CellSize = 3

	// DefaultPreambleSize is the number of bytes preceding the first sample
	DefaultPreambleSize = 3

	// VoltageChannels is the number of leading channels in the voltage group
	VoltageChannels = 3

	// MaxChannels bounds the channel count accepted for trend purposes
	MaxChannels = 6

	statusBits = 2
)

var (
	ErrSizeMismatch = errors.New("encoded block shorter than declared samples")
	ErrEmptySignal  = errors.New("record has no samples")
	ErrChannelCount = errors.New("channel count out of range")
)

// Matrix holds decoded samples in sample-major order.
type Matrix struct {
	Samples  int
	Channels int
	data     []float64
}

// NewMatrix allocates a zeroed samples x channels matrix.
func NewMatrix(samples, channels int) *Matrix {
	return &Matrix{
		Samples:  samples,
		Channels: channels,
		data:     make([]float64, samples*channels),
	}
}

// At returns the value of channel j at sample i.
func (m *Matrix) At(i, j int) float64 {
	return m.data[i*m.Channels+j]
}

// Set stores v at sample i, channel j.
func (m *Matrix) Set(i, j int, v float64) {
	m.data[i*m.Channels+j] = v
}

// Channel returns a copy of one channel's samples.
func (m *Matrix) Channel(j int) []float64 {
	out := make([]float64, m.Samples)
	for i := 0; i < m.Samples; i++ {
		out[i] = m.data[i*m.Channels+j]
	}
	return out
}

// Row returns a copy of all channel values for sample i.
func (m *Matrix) Row(i int) []float64 {
	out := make([]float64, m.Channels)
	copy(out, m.data[i*m.Channels:(i+1)*m.Channels])
	return out
}

// DecodeCell converts one 3-byte little-endian cell to a signed 24-bit integer.
// This is the byte reversal plus big-endian two's-complement read.
func DecodeCell(cell []byte) int32 {
	v := int32(cell[0]) | int32(cell[1])<<8 | int32(cell[2])<<16
	if cell[2]&0x80 != 0 {
		v -= 1 << 24
	}
	return v
}

// EncodeCell is the inverse of DecodeCell for values in [-2^23, 2^23).
func EncodeCell(v int32) [CellSize]byte {
	u := uint32(v) & 0xFFFFFF
	return [CellSize]byte{byte(u), byte(u >> 8), byte(u >> 16)}
}

// RawCode returns the ADC code of a cell with the status bits removed.
func RawCode(cell []byte) int32 {
	// arithmetic shift: negative codes round toward -inf
	return DecodeCell(cell) >> statusBits
}

// Decode turns an encoded block into calibrated physical values using the
// default preamble size.
func Decode(block []byte, sampleCount, channelCount int, cal Calibration) (*Matrix, error) {
	return DecodeWithPreamble(block, DefaultPreambleSize, sampleCount, channelCount, cal)
}

// DecodeWithPreamble is Decode with an explicit preamble length.
func DecodeWithPreamble(block []byte, preamble, sampleCount, channelCount int, cal Calibration) (*Matrix, error) {
	if channelCount < 1 || channelCount > MaxChannels {
		return nil, fmt.Errorf("%w: %d", ErrChannelCount, channelCount)
	}
	if sampleCount <= 0 {
		return NewMatrix(0, channelCount), ErrEmptySignal
	}

	stride := CellSize * channelCount
	need := preamble + sampleCount*stride
	if len(block) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrSizeMismatch, len(block), need)
	}

	voltScale := cal.voltageScale()
	currScale := cal.currentScale()

	m := NewMatrix(sampleCount, channelCount)
	for i := 0; i < sampleCount; i++ {
		a := preamble + i*stride
		sample := block[a : a+stride]
		for j := 0; j < channelCount; j++ {
			raw := float64(RawCode(sample[j*CellSize : (j+1)*CellSize]))
			if j < VoltageChannels {
				m.Set(i, j, voltScale*raw)
			} else {
				m.Set(i, j, currScale*raw)
			}
		}
	}
	return m, nil
}

// EncodeBlock packs raw cell values (status bits included) into a block with a
// zeroed preamble. raw is indexed [sample][channel].
func EncodeBlock(raw [][]int32, preamble int) []byte {
	if len(raw) == 0 {
		return make([]byte, preamble)
	}
	channels := len(raw[0])
	block := make([]byte, preamble+len(raw)*channels*CellSize)
	off := preamble
	for _, sample := range raw {
		for _, v := range sample {
			cell := EncodeCell(v)
			copy(block[off:], cell[:])
			off += CellSize
		}
	}
	return block
}

// RawFromValue returns the cell value (status bits zero) that decodes to the
// nearest representable physical value for a channel, clamped to the ADC range.
func RawFromValue(v float64, channel int, cal Calibration) int32 {
	scale := cal.voltageScale()
	if channel >= VoltageChannels {
		scale = cal.currentScale()
	}
	if scale == 0 {
		return 0
	}
	code := math.Round(v / scale)
	switch {
	case code > ADCRawMax-1:
		code = ADCRawMax - 1
	case code < -ADCRawMax:
		code = -ADCRawMax
	}
	return int32(code) << statusBits
}
