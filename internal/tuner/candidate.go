// Package tuner searches for resistor and capacitor values that place the
// cutoff of a first-order RC low-pass filter on a target frequency. The
// filter is observed only through an Oracle, so the same search loop drives
// an ideal analytic model in tests and an external circuit simulator in
// production.
package tuner

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig wraps every configuration problem detected before a
	// run starts.
	ErrInvalidConfig = errors.New("invalid tuner configuration")

	// ErrPhysicalLimit is returned by a strategy when no further adjustment is
	// possible within the component bounds.
	ErrPhysicalLimit = errors.New("physical limit reached")
)

// Candidate is one (resistance, capacitance) pair under evaluation.
type Candidate struct {
	Resistance  float64 `json:"resistance_ohms"`
	Capacitance float64 `json:"capacitance_farads"`
}

// TimeConstant returns R·C in seconds.
func (c Candidate) TimeConstant() float64 {
	return c.Resistance * c.Capacitance
}

// IdealCutoff returns 1/(2πRC), the analytic -3 dB frequency.
func (c Candidate) IdealCutoff() float64 {
	rc := c.TimeConstant()
	if rc <= 0 {
		return math.Inf(1)
	}
	return 1 / (2 * math.Pi * rc)
}

func (c Candidate) String() string {
	return fmt.Sprintf("R=%.2fΩ C=%.2ffF", c.Resistance, c.Capacitance*1e15)
}

// CapacitanceFor returns the capacitance that puts the ideal cutoff of a
// filter with resistance r on targetHz.
func CapacitanceFor(r, targetHz float64) float64 {
	return 1 / (2 * math.Pi * r * targetHz)
}

// Bounds are the physical limits every candidate must respect.
type Bounds struct {
	MinResistance  float64 `json:"min_resistance_ohms"`
	MaxResistance  float64 `json:"max_resistance_ohms"`
	MinCapacitance float64 `json:"min_capacitance_farads"`
	MaxCapacitance float64 `json:"max_capacitance_farads"`
}

// DefaultBounds returns the layout limits used by the bench setup:
// 10 Ω – 100 kΩ and 50 fF – 1 µF.
func DefaultBounds() Bounds {
	return Bounds{
		MinResistance:  10.0,
		MaxResistance:  100000.0,
		MinCapacitance: 50e-15,
		MaxCapacitance: 1e-6,
	}
}

// Validate reports whether the bounds describe a non-empty positive box.
func (b Bounds) Validate() error {
	if !(b.MinResistance > 0) || !(b.MinCapacitance > 0) {
		return fmt.Errorf("%w: lower bounds must be positive (R>=%g, C>=%g)", ErrInvalidConfig, b.MinResistance, b.MinCapacitance)
	}
	if b.MinResistance >= b.MaxResistance {
		return fmt.Errorf("%w: min resistance %g must be less than max %g", ErrInvalidConfig, b.MinResistance, b.MaxResistance)
	}
	if b.MinCapacitance >= b.MaxCapacitance {
		return fmt.Errorf("%w: min capacitance %g must be less than max %g", ErrInvalidConfig, b.MinCapacitance, b.MaxCapacitance)
	}
	return nil
}

// Contains reports whether c lies inside the bounds (inclusive).
func (b Bounds) Contains(c Candidate) bool {
	return c.Resistance >= b.MinResistance && c.Resistance <= b.MaxResistance &&
		c.Capacitance >= b.MinCapacitance && c.Capacitance <= b.MaxCapacitance
}

// Clamp pulls c back inside the bounds.
func (b Bounds) Clamp(c Candidate) Candidate {
	return Candidate{
		Resistance:  clamp(c.Resistance, b.MinResistance, b.MaxResistance),
		Capacitance: clamp(c.Capacitance, b.MinCapacitance, b.MaxCapacitance),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Measurement is a single oracle answer. Found is false when the response
// never crossed the cutoff threshold inside the sweep window.
type Measurement struct {
	FrequencyHz float64
	Found       bool
}

// Crossing returns a found measurement at f.
func Crossing(f float64) Measurement {
	return Measurement{FrequencyHz: f, Found: true}
}

// NoCrossing is the "no crossing found" measurement.
func NoCrossing() Measurement {
	return Measurement{}
}
