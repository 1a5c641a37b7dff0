package waveform

import (
	"fmt"
	"math"
)

// Calibration holds the two rational scale factors of a logger.
type Calibration struct {
	VoltageMultiplier float64 `json:"voltage_multiplier"`
	VoltageDivider    float64 `json:"voltage_divider"`
	CurrentMultiplier float64 `json:"current_multiplier"`
	CurrentDivider    float64 `json:"current_divider"`
}

// CalibrationError reports an unusable divider.
type CalibrationError struct {
	Field string
	Value float64
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("invalid calibration: %s = %v", e.Field, e.Value)
}

// Validate checks that both dividers are usable.
func (c Calibration) Validate() error {
	if c.VoltageDivider == 0 || math.IsNaN(c.VoltageDivider) {
		return &CalibrationError{Field: "voltage_divider", Value: c.VoltageDivider}
	}
	if c.CurrentDivider == 0 || math.IsNaN(c.CurrentDivider) {
		return &CalibrationError{Field: "current_divider", Value: c.CurrentDivider}
	}
	return nil
}

func (c Calibration) voltageScale() float64 {
	return (c.VoltageMultiplier / c.VoltageDivider) / (ADCRawMax / ADCFullScaleVolts)
}

func (c Calibration) currentScale() float64 {
	return (c.CurrentMultiplier / c.CurrentDivider) / (ADCRawMax / ADCFullScaleVolts)
}
