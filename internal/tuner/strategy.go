package tuner

import (
	"context"
	"math"
)

// Problem is what a strategy is asked to solve.
type Problem struct {
	TargetHz    float64
	ToleranceHz float64
	Bounds      Bounds
}

// Observation is the outcome of measuring one candidate. FrequencyHz already
// has the not-found sentinel substituted.
type Observation struct {
	Iteration   int
	Candidate   Candidate
	FrequencyHz float64
	Found       bool
}

// Error returns measured minus target.
func (o Observation) Error(targetHz float64) float64 {
	return o.FrequencyHz - targetHz
}

// Probe measures an extra candidate within the current iteration. The
// returned frequency follows the same sentinel rules as regular measurements.
type Probe func(ctx context.Context, c Candidate) float64

// Traits tell the run loop which shared policies apply to a strategy.
type Traits struct {
	// StopAtTolerance ends the run as soon as a measurement is within
	// tolerance. Exhaustive samplers leave it false.
	StopAtTolerance bool
	// DetectCycles enables visited-state tracking and jitter.
	DetectCycles bool
}

// Strategy proposes candidates. The run loop owns measurement, best-fit
// tracking, cycle detection and termination; a strategy only decides where
// to look next.
type Strategy interface {
	Name() string
	Traits() Traits
	// Init resets internal state and returns the first candidate.
	Init(p Problem) Candidate
	// Phase tags an observation for progress reporting.
	Phase(obs Observation) string
	// Advance returns the next candidate. ErrPhysicalLimit ends the run.
	Advance(ctx context.Context, obs Observation, probe Probe) (Candidate, error)
}

// DualBinary bisects the resistance and capacitance brackets together.
// Cutoff falls as R·C grows, so a measurement above target moves both lower
// bounds up to the midpoint and anything else moves both upper bounds down.
type DualBinary struct {
	problem Problem

	rLow, rHigh float64
	cLow, cHigh float64
}

// NewDualBinary returns a dual binary search strategy.
func NewDualBinary() *DualBinary {
	return &DualBinary{}
}

func (s *DualBinary) Name() string { return "binary" }

func (s *DualBinary) Traits() Traits {
	return Traits{StopAtTolerance: true, DetectCycles: true}
}

func (s *DualBinary) Init(p Problem) Candidate {
	s.problem = p
	s.rLow, s.rHigh = p.Bounds.MinResistance, p.Bounds.MaxResistance
	s.cLow, s.cHigh = p.Bounds.MinCapacitance, p.Bounds.MaxCapacitance
	return s.midpoint()
}

func (s *DualBinary) Phase(Observation) string { return "bin" }

func (s *DualBinary) Advance(_ context.Context, obs Observation, _ Probe) (Candidate, error) {
	mid := s.midpoint()
	if obs.FrequencyHz > s.problem.TargetHz {
		s.rLow, s.cLow = mid.Resistance, mid.Capacitance
	} else {
		s.rHigh, s.cHigh = mid.Resistance, mid.Capacitance
	}
	return s.midpoint(), nil
}

// Brackets returns the current resistance and capacitance brackets.
func (s *DualBinary) Brackets() (r, c [2]float64) {
	return [2]float64{s.rLow, s.rHigh}, [2]float64{s.cLow, s.cHigh}
}

func (s *DualBinary) midpoint() Candidate {
	return Candidate{
		Resistance:  (s.rLow + s.rHigh) / 2,
		Capacitance: (s.cLow + s.cHigh) / 2,
	}
}

// NewtonParams are the tuning constants of the Newton strategy. The reset
// resistances are bench defaults rather than derived values.
type NewtonParams struct {
	StartResistance   float64 `json:"start_resistance_ohms"`
	FineTuneFraction  float64 `json:"fine_tune_fraction"`
	ProbeFraction     float64 `json:"probe_fraction"`
	Damping           float64 `json:"damping"`
	SlopeFloor        float64 `json:"slope_floor"`
	FineStep          float64 `json:"fine_step"`
	HighResetOhms     float64 `json:"high_reset_ohms"`
	LowResetOhms      float64 `json:"low_reset_ohms"`
	KickDownFactor    float64 `json:"kick_down_factor"`
	KickUpFactor      float64 `json:"kick_up_factor"`
	CapacitanceGrowth float64 `json:"capacitance_growth"`
}

// DefaultNewtonParams returns the constants the bench tool shipped with.
func DefaultNewtonParams() NewtonParams {
	return NewtonParams{
		StartResistance:   1000.0,
		FineTuneFraction:  0.10,
		ProbeFraction:     0.05,
		Damping:           0.7,
		SlopeFloor:        1e-5,
		FineStep:          0.005,
		HighResetOhms:     50000.0,
		LowResetOhms:      500.0,
		KickDownFactor:    0.5,
		KickUpFactor:      2.0,
		CapacitanceGrowth: 2.0,
	}
}

// Newton runs a damped Newton-Raphson iteration on resistance while the
// error is coarse, then alternates small relative nudges on R and C.
type Newton struct {
	params  NewtonParams
	problem Problem

	fineTurnC bool
}

// NewNewton returns a Newton strategy with the given constants.
func NewNewton(params NewtonParams) *Newton {
	return &Newton{params: params}
}

func (s *Newton) Name() string { return "newton" }

func (s *Newton) Traits() Traits {
	return Traits{StopAtTolerance: true, DetectCycles: true}
}

// Init starts at the configured resistance with the capacitance that would
// hit the target on an ideal filter.
func (s *Newton) Init(p Problem) Candidate {
	s.problem = p
	s.fineTurnC = false
	r := clamp(s.params.StartResistance, p.Bounds.MinResistance, p.Bounds.MaxResistance)
	return p.Bounds.Clamp(Candidate{Resistance: r, Capacitance: CapacitanceFor(r, p.TargetHz)})
}

func (s *Newton) fineTune(obs Observation) bool {
	return math.Abs(obs.Error(s.problem.TargetHz)) <= s.params.FineTuneFraction*s.problem.TargetHz
}

func (s *Newton) Phase(obs Observation) string {
	if s.fineTune(obs) {
		return "fine"
	}
	return "newt"
}

func (s *Newton) Advance(ctx context.Context, obs Observation, probe Probe) (Candidate, error) {
	if s.fineTune(obs) {
		return s.nudge(obs), nil
	}

	b := s.problem.Bounds
	cur := obs.Candidate
	f1 := obs.FrequencyHz
	errHz := obs.Error(s.problem.TargetHz)

	delta := cur.Resistance * s.params.ProbeFraction
	if cur.Resistance+delta > b.MaxResistance {
		delta = -delta
	}
	f2 := probe(ctx, Candidate{Resistance: cur.Resistance + delta, Capacitance: cur.Capacitance})
	slope := (f2 - f1) / delta

	if math.Abs(slope) < s.params.SlopeFloor || math.IsNaN(slope) {
		// Flat region: push R in the direction that moves the cutoff toward target.
		factor := s.params.KickUpFactor
		if f1 < s.problem.TargetHz {
			factor = s.params.KickDownFactor
		}
		return s.enforce(cur, cur.Resistance*factor)
	}

	proposed := cur.Resistance - errHz/slope
	if proposed > b.MaxResistance || proposed < b.MinResistance {
		return s.enforce(cur, proposed)
	}
	next := cur
	next.Resistance = cur.Resistance + s.params.Damping*(proposed-cur.Resistance)
	return b.Clamp(next), nil
}

// enforce applies the hard resistance limits to a proposed value. Leaving the
// range trades resistance for capacitance; once capacitance is at its floor
// there is nothing left to trade.
func (s *Newton) enforce(cur Candidate, proposed float64) (Candidate, error) {
	b := s.problem.Bounds
	switch {
	case proposed > b.MaxResistance:
		return Candidate{
			Resistance:  clamp(s.params.HighResetOhms, b.MinResistance, b.MaxResistance),
			Capacitance: math.Min(b.MaxCapacitance, cur.Capacitance*s.params.CapacitanceGrowth),
		}, nil
	case proposed < b.MinResistance:
		if cur.Capacitance <= b.MinCapacitance {
			return cur, ErrPhysicalLimit
		}
		return Candidate{
			Resistance:  clamp(s.params.LowResetOhms, b.MinResistance, b.MaxResistance),
			Capacitance: math.Max(b.MinCapacitance, cur.Capacitance/s.params.CapacitanceGrowth),
		}, nil
	default:
		return Candidate{Resistance: proposed, Capacitance: cur.Capacitance}, nil
	}
}

// nudge moves one parameter by FineStep, alternating R and C. A cutoff above
// target needs a larger time constant.
func (s *Newton) nudge(obs Observation) Candidate {
	step := 1 - s.params.FineStep
	if obs.FrequencyHz > s.problem.TargetHz {
		step = 1 + s.params.FineStep
	}
	next := obs.Candidate
	if s.fineTurnC {
		next.Capacitance *= step
	} else {
		next.Resistance *= step
	}
	s.fineTurnC = !s.fineTurnC
	return s.problem.Bounds.Clamp(next)
}
