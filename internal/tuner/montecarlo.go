package tuner

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MonteCarlo draws candidates around a nominal design with independent
// normal relative errors on R and C. It characterises how sensitive the
// cutoff is to component tolerance; it is not a search, so it spends its
// whole budget and skips cycle detection.
type MonteCarlo struct {
	Nominal      Candidate
	TolerancePct float64

	dist    distuv.Normal
	problem Problem

	lastClamped bool
	clamped     int
}

// NewMonteCarlo returns a sampler with standard deviation tolerancePct/100.
// src makes the draws reproducible; nil uses the global source.
func NewMonteCarlo(nominal Candidate, tolerancePct float64, src rand.Source) *MonteCarlo {
	return &MonteCarlo{
		Nominal:      nominal,
		TolerancePct: tolerancePct,
		dist:         distuv.Normal{Mu: 0, Sigma: tolerancePct / 100, Src: src},
	}
}

func (s *MonteCarlo) Name() string { return "montecarlo" }

func (s *MonteCarlo) Traits() Traits { return Traits{} }

func (s *MonteCarlo) Init(p Problem) Candidate {
	s.problem = p
	s.clamped = 0
	return s.draw()
}

func (s *MonteCarlo) Phase(Observation) string { return "mc" }

// Advance is called once per measured draw, so the clamp count only covers
// candidates that reached the oracle.
func (s *MonteCarlo) Advance(context.Context, Observation, Probe) (Candidate, error) {
	if s.lastClamped {
		s.clamped++
	}
	return s.draw(), nil
}

// Clamped returns how many measured draws were pulled onto a component bound.
func (s *MonteCarlo) Clamped() int { return s.clamped }

func (s *MonteCarlo) draw() Candidate {
	c := Candidate{
		Resistance:  s.Nominal.Resistance * (1 + s.dist.Rand()),
		Capacitance: s.Nominal.Capacitance * (1 + s.dist.Rand()),
	}
	clamped := s.problem.Bounds.Clamp(c)
	s.lastClamped = clamped != c
	return clamped
}

// SensitivityReport summarises the spread of measured cutoffs.
type SensitivityReport struct {
	Nominal      Candidate `json:"nominal"`
	TolerancePct float64   `json:"tolerance_pct"`
	Runs         int       `json:"runs"`
	Samples      int       `json:"samples"`
	Misses       int       `json:"misses"`
	// Clamped counts draws pulled onto a bound. A large share means the
	// spread below is understated.
	Clamped  int     `json:"clamped,omitempty"`
	MinHz    float64 `json:"min_hz"`
	MaxHz    float64 `json:"max_hz"`
	MeanHz   float64 `json:"mean_hz"`
	StdDevHz float64 `json:"stddev_hz"`
}

// Sensitivity computes the spread over the found measurements of a Monte
// Carlo run. Misses (no crossing, oracle failure) are counted but excluded.
func Sensitivity(res *Result, nominal Candidate, tolerancePct float64) SensitivityReport {
	rep := SensitivityReport{Nominal: nominal, TolerancePct: tolerancePct}
	if res == nil {
		return rep
	}
	rep.Runs = len(res.Iterations)

	freqs := make([]float64, 0, len(res.Iterations))
	for _, it := range res.Iterations {
		if !it.Found {
			rep.Misses++
			continue
		}
		freqs = append(freqs, it.FrequencyHz)
	}
	rep.Samples = len(freqs)
	if len(freqs) == 0 {
		return rep
	}

	rep.MinHz = floats.Min(freqs)
	rep.MaxHz = floats.Max(freqs)
	rep.MeanHz = stat.Mean(freqs, nil)
	if len(freqs) > 1 && rep.MaxHz > rep.MinHz {
		rep.StdDevHz = stat.StdDev(freqs, nil)
	}
	return rep
}

// RunMonteCarlo samples runs candidates around nominal through the runner's
// oracle and returns the spread. The runner's iteration budget is replaced by
// runs for the duration of the call.
func RunMonteCarlo(ctx context.Context, r *Runner, nominal Candidate, tolerancePct float64, runs int, src rand.Source) (SensitivityReport, *Result, error) {
	if tolerancePct < 0 {
		return SensitivityReport{}, nil, fmt.Errorf("%w: monte carlo tolerance must be non-negative, got %g%%", ErrInvalidConfig, tolerancePct)
	}
	if runs <= 0 {
		return SensitivityReport{}, nil, fmt.Errorf("%w: monte carlo runs must be positive, got %d", ErrInvalidConfig, runs)
	}

	sub := *r
	sub.Options.MaxIterations = runs
	mc := NewMonteCarlo(nominal, tolerancePct, src)
	res, err := sub.Run(ctx, mc)
	if err != nil {
		return SensitivityReport{}, res, err
	}
	rep := Sensitivity(res, nominal, tolerancePct)
	rep.Clamped = mc.Clamped()
	if rep.Clamped > 0 {
		logf("monte carlo: %d of %d draws clamped to component bounds", rep.Clamped, rep.Runs)
	}
	return rep, res, nil
}
