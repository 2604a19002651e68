package tuner

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// CutoffRatio is the magnitude ratio (1/√2) that defines the cutoff.
var CutoffRatio = 1 / math.Sqrt2

// Oracle measures the cutoff frequency of the filter built from a candidate.
// Measure blocks until the measurement is available. A returned error, like a
// Measurement with Found=false, is treated by the run loop as "no crossing".
type Oracle interface {
	Measure(ctx context.Context, c Candidate) (Measurement, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, c Candidate) (Measurement, error)

// Measure calls f.
func (f OracleFunc) Measure(ctx context.Context, c Candidate) (Measurement, error) {
	return f(ctx, c)
}

// Sweep describes the decade AC sweep the oracle evaluates.
type Sweep struct {
	PointsPerDecade int     `json:"points_per_decade"`
	StartHz         float64 `json:"start_hz"`
	StopHz          float64 `json:"stop_hz"`
}

// DefaultSweep is 20 points per decade from 1 Hz to 200 GHz.
func DefaultSweep() Sweep {
	return Sweep{PointsPerDecade: 20, StartHz: 1, StopHz: 200e9}
}

// Validate checks the sweep window.
func (s Sweep) Validate() error {
	if s.PointsPerDecade <= 0 {
		return fmt.Errorf("%w: points per decade must be positive, got %d", ErrInvalidConfig, s.PointsPerDecade)
	}
	if !(s.StartHz > 0) || s.StartHz >= s.StopHz {
		return fmt.Errorf("%w: sweep window [%g, %g] Hz is empty", ErrInvalidConfig, s.StartHz, s.StopHz)
	}
	return nil
}

// Contains reports whether f lies inside the sweep window.
func (s Sweep) Contains(f float64) bool {
	return f >= s.StartHz && f <= s.StopHz
}

// IdealRC is an analytic oracle: the cutoff is exactly 1/(2πRC). Cutoffs
// outside the sweep window are reported as not found, as a simulator sweep
// would be unable to observe them.
type IdealRC struct {
	Sweep Sweep
}

// NewIdealRC returns an IdealRC over the default sweep.
func NewIdealRC() *IdealRC {
	return &IdealRC{Sweep: DefaultSweep()}
}

// Measure implements Oracle.
func (o *IdealRC) Measure(ctx context.Context, c Candidate) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return NoCrossing(), err
	}
	f := c.IdealCutoff()
	if math.IsInf(f, 0) || !o.Sweep.Contains(f) {
		return NoCrossing(), nil
	}
	return Crossing(f), nil
}

// ResponsePoint is one sample of a magnitude response.
type ResponsePoint struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Magnitude   float64 `json:"magnitude"`
}

// IdealResponse evaluates |H(f)| = 1/√(1+(2πfRC)²) on n log-spaced points
// between startHz and stopHz.
func IdealResponse(c Candidate, startHz, stopHz float64, n int) []ResponsePoint {
	if n < 2 || !(startHz > 0) || stopHz <= startHz {
		return nil
	}
	freqs := floats.LogSpan(make([]float64, n), startHz, stopHz)
	rc := c.TimeConstant()
	out := make([]ResponsePoint, n)
	for i, f := range freqs {
		x := 2 * math.Pi * f * rc
		out[i] = ResponsePoint{FrequencyHz: f, Magnitude: 1 / math.Sqrt(1+x*x)}
	}
	return out
}

// DisplayResponse is the curve handed to reporters: 100 points, 1 Hz – 100 GHz.
func DisplayResponse(c Candidate) []ResponsePoint {
	return IdealResponse(c, 1, 1e11, 100)
}
