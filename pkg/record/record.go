// Package record defines the typed form of one stored logger record and the
// validated conversion from loosely typed source rows.
package record

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/nicktill/wavetrend/pkg/waveform"
)

// ChannelMask marks the active ADC channels of a record, bit 0 first.
type ChannelMask uint32

// Count returns the number of active channels.
func (m ChannelMask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// String renders the mask the way loggers store it: one '0'/'1' per channel.
func (m ChannelMask) String() string {
	if m == 0 {
		return "0"
	}
	var sb strings.Builder
	for i := 0; i < 32-bits.LeadingZeros32(uint32(m)); i++ {
		if m&(1<<i) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// MaskOf returns a mask with the first n channels active.
func MaskOf(n int) ChannelMask {
	return ChannelMask(uint32(1)<<n - 1)
}

// ParseMask accepts the textual bit-string form ("111111") and, when the
// string has a 0x/0b prefix, a numeric form.
func ParseMask(s string) (ChannelMask, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty channel mask")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0b") {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid channel mask %q: %w", s, err)
		}
		return ChannelMask(v), nil
	}
	if len(s) > 32 {
		return 0, fmt.Errorf("channel mask %q longer than 32 channels", s)
	}
	var m ChannelMask
	for i, c := range s {
		switch c {
		case '1':
			m |= 1 << i
		case '0':
		default:
			return 0, fmt.Errorf("invalid channel mask %q", s)
		}
	}
	return m, nil
}

// Record is one stored measurement event. It is not mutated after FromRow.
type Record struct {
	Timestamp   int64                `json:"timestamp"`
	Mask        ChannelMask          `json:"mask"`
	SampleCount int                  `json:"npoints"`
	Block       []byte               `json:"points"`
	Calibration waveform.Calibration `json:"calibration"`
}

// ChannelCount is popcount(Mask).
func (r Record) ChannelCount() int {
	return r.Mask.Count()
}

// Decode runs the codec over the record's block. fallback is used when the
// record's own calibration has an unusable divider.
func (r Record) Decode(layout waveform.Layout, fallback waveform.Calibration) (*waveform.Matrix, error) {
	cal := r.Calibration
	if cal.Validate() != nil {
		cal = fallback
	}
	return layout.Decode(r.Block, r.SampleCount, r.ChannelCount(), cal)
}
