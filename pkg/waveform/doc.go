/*
Package waveform decodes packed multi-channel ADC sample blocks into calibrated
physical measurements.

# Block Format

A block is a short preamble followed by interleaved samples. Every sample holds one
3-byte cell per active channel:

	[preamble (3 bytes)][s0c0 s0c1 ... s0cN][s1c0 s1c1 ... s1cN] ...

Each cell is stored least-significant byte first. Decoding a cell:

 1. reverse the byte order and read the result as a big-endian integer
 2. sign-extend over 24 bits when the original last byte has its high bit set
 3. shift right by 2 to drop the instrumentation status bits

The raw code is then scaled by its calibration group:

	value = (multiplier / divider) / (ADCRawMax / ADCFullScaleVolts) * raw

Channels 0..2 are the voltage channels (A/B/C) and use the voltage pair. Every
channel after that is a current channel and uses the current pair.

# Layouts

Two block layouts exist in the field:

  - LayoutColumns: sample count and channel mask live in separate record columns,
    the preamble is opaque.
  - LayoutHeader: the preamble carries the sample count (byte 0 reserved, bytes 1..2
    little-endian uint16).

Both are decoded by the same cell and calibration logic.

# Usage Example

	m, err := waveform.Decode(block, samples, channels, cal)
	if errors.Is(err, waveform.ErrSizeMismatch) {
	    // drop the record, keep going
	}
	ua := m.Channel(0)
*/
package waveform
