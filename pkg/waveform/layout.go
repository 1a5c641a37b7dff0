package waveform

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Layout selects where the sample count of a block comes from.
type Layout string

const (
	// LayoutColumns reads the sample count from a separate column
	LayoutColumns Layout = "columns"

	// LayoutHeader reads the sample count from bytes 1..2 of the preamble
	LayoutHeader Layout = "header"
)

// ParseLayout maps a config string to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutColumns:
		return LayoutColumns, nil
	case LayoutHeader:
		return LayoutHeader, nil
	default:
		return "", fmt.Errorf("unknown block layout %q", s)
	}
}

// SampleCount resolves the number of samples in block. For LayoutColumns the
// declared column value is returned unchanged.
func (l Layout) SampleCount(block []byte, declared int) (int, error) {
	if l != LayoutHeader {
		return declared, nil
	}
	if len(block) < DefaultPreambleSize {
		return 0, fmt.Errorf("%w: header needs %d bytes, have %d", ErrSizeMismatch, DefaultPreambleSize, len(block))
	}
	return int(binary.LittleEndian.Uint16(block[1:3])), nil
}

// Decode decodes block with the sample count resolved by the layout.
func (l Layout) Decode(block []byte, declared, channelCount int, cal Calibration) (*Matrix, error) {
	n, err := l.SampleCount(block, declared)
	if err != nil {
		return nil, err
	}
	return Decode(block, n, channelCount, cal)
}

// PutHeader writes a LayoutHeader preamble for n samples into block.
func PutHeader(block []byte, n int) {
	block[0] = 0
	binary.LittleEndian.PutUint16(block[1:3], uint16(n))
}
