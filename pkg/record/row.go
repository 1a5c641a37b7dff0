package record

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nicktill/wavetrend/pkg/waveform"
)

// Column names used by logger tables.
const (
	ColTimestamp         = "timestamp"
	ColMask              = "mask"
	ColSampleCount       = "npoints"
	ColPoints            = "points"
	ColVoltageMultiplier = "cfg_voltage_multiplier"
	ColVoltageDivider    = "cfg_voltage_divider"
	ColCurrentMultiplier = "cfg_current_multiplier"
	ColCurrentDivider    = "cfg_current_divider"
)

// Columns lists every column FromRow reads, in table order.
var Columns = []string{
	ColTimestamp,
	ColMask,
	ColSampleCount,
	ColPoints,
	ColVoltageMultiplier,
	ColVoltageDivider,
	ColCurrentMultiplier,
	ColCurrentDivider,
}

// Row is an untyped record as returned by a source query.
type Row map[string]any

var ErrMissingField = errors.New("missing required field")

// FieldError describes a row field that could not be converted.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// FromRow converts a source row into a Record. Timestamp, mask, sample count and
// points are required. Calibration columns may be null; a null factor becomes 0
// and is caught later by calibration validation.
func FromRow(row Row) (Record, error) {
	var rec Record
	var err error

	if rec.Timestamp, err = requiredInt(row, ColTimestamp); err != nil {
		return Record{}, err
	}

	maskVal, ok := row[ColMask]
	if !ok || maskVal == nil {
		return Record{}, &FieldError{Field: ColMask, Err: ErrMissingField}
	}
	if rec.Mask, err = toMask(maskVal); err != nil {
		return Record{}, &FieldError{Field: ColMask, Err: err}
	}

	n, err := requiredInt(row, ColSampleCount)
	if err != nil {
		return Record{}, err
	}
	if n < 0 {
		return Record{}, &FieldError{Field: ColSampleCount, Err: fmt.Errorf("negative sample count %d", n)}
	}
	rec.SampleCount = int(n)

	pointsVal, ok := row[ColPoints]
	if !ok || pointsVal == nil {
		return Record{}, &FieldError{Field: ColPoints, Err: ErrMissingField}
	}
	if rec.Block, err = toBlock(pointsVal); err != nil {
		return Record{}, &FieldError{Field: ColPoints, Err: err}
	}

	cal := waveform.Calibration{}
	for _, f := range []struct {
		col string
		dst *float64
	}{
		{ColVoltageMultiplier, &cal.VoltageMultiplier},
		{ColVoltageDivider, &cal.VoltageDivider},
		{ColCurrentMultiplier, &cal.CurrentMultiplier},
		{ColCurrentDivider, &cal.CurrentDivider},
	} {
		v, present := row[f.col]
		if !present || v == nil {
			continue
		}
		if *f.dst, err = toFloat(v); err != nil {
			return Record{}, &FieldError{Field: f.col, Err: err}
		}
	}
	rec.Calibration = cal

	return rec, nil
}

// CalibrationFromRow reads only the calibration columns. Null factors are
// returned as 0.
func CalibrationFromRow(row Row) (waveform.Calibration, error) {
	var cal waveform.Calibration
	targets := map[string]*float64{
		ColVoltageMultiplier: &cal.VoltageMultiplier,
		ColVoltageDivider:    &cal.VoltageDivider,
		ColCurrentMultiplier: &cal.CurrentMultiplier,
		ColCurrentDivider:    &cal.CurrentDivider,
	}
	for col, dst := range targets {
		v := row[col]
		if v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return waveform.Calibration{}, &FieldError{Field: col, Err: err}
		}
		*dst = f
	}
	return cal, nil
}

// ToRow is the inverse of FromRow, with points base64 encoded.
func ToRow(rec Record) Row {
	return Row{
		ColTimestamp:         rec.Timestamp,
		ColMask:              rec.Mask.String(),
		ColSampleCount:       int64(rec.SampleCount),
		ColPoints:            base64.StdEncoding.EncodeToString(rec.Block),
		ColVoltageMultiplier: rec.Calibration.VoltageMultiplier,
		ColVoltageDivider:    rec.Calibration.VoltageDivider,
		ColCurrentMultiplier: rec.Calibration.CurrentMultiplier,
		ColCurrentDivider:    rec.Calibration.CurrentDivider,
	}
}

func requiredInt(row Row, col string) (int64, error) {
	v, ok := row[col]
	if !ok || v == nil {
		return 0, &FieldError{Field: col, Err: ErrMissingField}
	}
	n, err := toInt(v)
	if err != nil {
		return 0, &FieldError{Field: col, Err: err}
	}
	return n, nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("non-integral value %v", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toMask(v any) (ChannelMask, error) {
	switch x := v.(type) {
	case string:
		return ParseMask(x)
	case []byte:
		return ParseMask(string(x))
	case ChannelMask:
		return x, nil
	default:
		n, err := toInt(v)
		if err != nil {
			return 0, err
		}
		if n < 0 || n > math.MaxUint32 {
			return 0, fmt.Errorf("mask %d out of range", n)
		}
		return ChannelMask(n), nil
	}
}

// toBlock accepts raw bytes or base64 text, optionally wrapped in braces or
// quotes as some exporters emit it.
func toBlock(v any) ([]byte, error) {
	var s string
	switch x := v.(type) {
	case []byte:
		s = string(x)
	case string:
		s = x
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	s = strings.Trim(strings.TrimSpace(s), "{}\"")
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return b, nil
}
