package tuner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rctune/internal/monitoring"
)

const (
	// DefaultNotFoundHz is substituted when the oracle finds no crossing. It
	// sits above any realistic target so the search is pushed toward a larger
	// time constant.
	DefaultNotFoundHz = 1e12

	defaultJitterMin = 0.10
	defaultJitterMax = 0.20
)

var logf = monitoring.Tagged("tuner")

// Status is the terminal state of a run.
type Status string

const (
	StatusConverged     Status = "converged"
	StatusExhausted     Status = "exhausted"
	StatusComplete      Status = "complete"
	StatusPhysicalLimit Status = "physical_limit"
	StatusCancelled     Status = "cancelled"
)

// Options configure a run.
type Options struct {
	TargetHz      float64
	RelTolerance  float64
	MaxIterations int
	Bounds        Bounds
	// NotFoundHz replaces missing or failed measurements and must lie above
	// TargetHz. Zero means DefaultNotFoundHz.
	NotFoundHz float64
	// JitterMin and JitterMax bound the relative resistance jitter applied on
	// a repeated state. Zero values mean 10% and 20%.
	JitterMin float64
	JitterMax float64
}

// ToleranceHz returns the absolute tolerance.
func (o Options) ToleranceHz() float64 {
	return o.RelTolerance * o.TargetHz
}

// Validate checks the options. Every error wraps ErrInvalidConfig.
func (o Options) Validate() error {
	if !(o.TargetHz > 0) || math.IsInf(o.TargetHz, 0) {
		return fmt.Errorf("%w: target frequency must be a positive number, got %g", ErrInvalidConfig, o.TargetHz)
	}
	if !(o.RelTolerance > 0 && o.RelTolerance < 1) {
		return fmt.Errorf("%w: relative tolerance must be in (0, 1), got %g", ErrInvalidConfig, o.RelTolerance)
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("%w: iteration budget must be positive, got %d", ErrInvalidConfig, o.MaxIterations)
	}
	if o.NotFoundHz < 0 || (o.NotFoundHz != 0 && o.NotFoundHz <= o.TargetHz) {
		return fmt.Errorf("%w: not-found frequency must lie above the target %g, got %g", ErrInvalidConfig, o.TargetHz, o.NotFoundHz)
	}
	if o.JitterMin < 0 || o.JitterMax < o.JitterMin || o.JitterMax >= 1 {
		return fmt.Errorf("%w: jitter range [%g, %g] is invalid", ErrInvalidConfig, o.JitterMin, o.JitterMax)
	}
	return o.Bounds.Validate()
}

func (o Options) withDefaults() Options {
	if o.NotFoundHz == 0 {
		o.NotFoundHz = DefaultNotFoundHz
	}
	if o.JitterMin == 0 && o.JitterMax == 0 {
		o.JitterMin, o.JitterMax = defaultJitterMin, defaultJitterMax
	}
	return o
}

// Iteration is the record of one loop pass.
type Iteration struct {
	Index       int       `json:"index"`
	Phase       string    `json:"phase"`
	Candidate   Candidate `json:"candidate"`
	FrequencyHz float64   `json:"frequency_hz"`
	Found       bool      `json:"found"`
	AbsError    float64   `json:"abs_error_hz"`
	Best        bool      `json:"best"`
	Jittered    bool      `json:"jittered"`
	// Probes counts extra measurements taken by the strategy this iteration.
	Probes int `json:"probes"`
}

// Result is the outcome of a run. Best, not the last iteration, is the answer.
type Result struct {
	RunID       string      `json:"run_id"`
	Strategy    string      `json:"strategy"`
	TargetHz    float64     `json:"target_hz"`
	ToleranceHz float64     `json:"tolerance_hz"`
	Status      Status      `json:"status"`
	Best        BestFit     `json:"best"`
	Iterations  []Iteration `json:"iterations"`
	OracleCalls int         `json:"oracle_calls"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// WithinTolerance reports whether the best fit met the tolerance.
func (r *Result) WithinTolerance() bool {
	return len(r.Iterations) > 0 && r.Best.AbsError <= r.ToleranceHz
}

// Runner drives a Strategy against an Oracle.
type Runner struct {
	Oracle   Oracle
	Reporter Reporter
	Options  Options
	// Rand drives cycle jitter. nil uses the global source.
	Rand *rand.Rand
}

// NewRunner returns a runner with a no-op reporter.
func NewRunner(oracle Oracle, opts Options, rng *rand.Rand) *Runner {
	return &Runner{Oracle: oracle, Reporter: NopReporter{}, Options: opts, Rand: rng}
}

// run holds the per-run mutable state.
type run struct {
	*Runner
	opts    Options
	res     *Result
	tracker *Tracker
	probes  int
}

// Run executes one optimisation. Configuration problems are returned before
// any measurement. Cancelling ctx stops the run between iterations with
// StatusCancelled and ctx's error; every other termination returns a nil
// error and the reason in Result.Status.
func (r *Runner) Run(ctx context.Context, s Strategy) (*Result, error) {
	if r.Oracle == nil {
		return nil, fmt.Errorf("%w: no oracle configured", ErrInvalidConfig)
	}
	if err := r.Options.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	reporter := r.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}

	st := &run{
		Runner:  r,
		opts:    r.Options.withDefaults(),
		tracker: NewTracker(),
	}
	st.res = &Result{
		RunID:       uuid.New().String(),
		Strategy:    s.Name(),
		TargetHz:    st.opts.TargetHz,
		ToleranceHz: st.opts.ToleranceHz(),
		StartedAt:   time.Now(),
	}
	problem := Problem{
		TargetHz:    st.opts.TargetHz,
		ToleranceHz: st.opts.ToleranceHz(),
		Bounds:      st.opts.Bounds,
	}

	logf("run %s: strategy=%s target=%.4gHz tolerance=%.4gHz budget=%d",
		st.res.RunID, s.Name(), problem.TargetHz, problem.ToleranceHz, st.opts.MaxIterations)

	traits := s.Traits()
	history := NewHistory()
	cand := problem.Bounds.Clamp(s.Init(problem))

	var runErr error
	for i := 0; i < st.opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			st.res.Status = StatusCancelled
			runErr = err
			break
		}

		jittered := false
		if traits.DetectCycles && history.Visit(cand) {
			prev := cand
			cand = st.jitter(cand)
			history.Clear()
			history.Visit(cand)
			jittered = true
			logf("cycle at iteration %d (%s), jittered to %s", i, prev, cand)
		}

		st.probes = 0
		freq, found := st.measure(ctx, cand)
		obs := Observation{Iteration: i, Candidate: cand, FrequencyHz: freq, Found: found}
		improved := st.tracker.Observe(i, cand, freq, problem.TargetHz)
		phase := s.Phase(obs)

		reporter.Report(Event{
			RunID:       st.res.RunID,
			Strategy:    s.Name(),
			Iteration:   i,
			Phase:       phase,
			Candidate:   cand,
			FrequencyHz: freq,
			Found:       found,
			TargetHz:    problem.TargetHz,
			Best:        improved,
			Jittered:    jittered,
			Response:    DisplayResponse(cand),
		})

		it := Iteration{
			Index:       i,
			Phase:       phase,
			Candidate:   cand,
			FrequencyHz: freq,
			Found:       found,
			AbsError:    math.Abs(freq - problem.TargetHz),
			Best:        improved,
			Jittered:    jittered,
		}

		if traits.StopAtTolerance && it.AbsError <= problem.ToleranceHz {
			st.res.Iterations = append(st.res.Iterations, it)
			st.res.Status = StatusConverged
			break
		}

		next, err := s.Advance(ctx, obs, st.probe)
		it.Probes = st.probes
		st.res.Iterations = append(st.res.Iterations, it)
		if traits.StopAtTolerance && st.probes > 0 {
			if best, ok := st.tracker.Best(); ok && best.AbsError <= problem.ToleranceHz {
				logf("slope measurement at iteration %d met tolerance (%s)", i, best.Candidate)
				st.res.Status = StatusConverged
				break
			}
		}
		if errors.Is(err, ErrPhysicalLimit) {
			logf("physical limit reached at iteration %d (%s)", i, cand)
			st.res.Status = StatusPhysicalLimit
			break
		}
		if err != nil {
			runErr = fmt.Errorf("strategy %s at iteration %d: %w", s.Name(), i, err)
			break
		}
		cand = problem.Bounds.Clamp(next)
	}

	if st.res.Status == "" && runErr == nil {
		st.res.Status = StatusExhausted
		if !traits.StopAtTolerance {
			st.res.Status = StatusComplete
		}
	}
	if best, ok := st.tracker.Best(); ok {
		st.res.Best = best
	}
	st.res.CompletedAt = time.Now()

	logf("run %s %s after %d iterations (%d oracle calls): best %s F=%.4gHz error=%.4f%%",
		st.res.RunID, st.res.Status, len(st.res.Iterations), st.res.OracleCalls,
		st.res.Best.Candidate, st.res.Best.FrequencyHz, 100*st.res.Best.RelativeError(problem.TargetHz))

	reporter.Finish(st.res)
	return st.res, runErr
}

// measure queries the oracle once. Failures and missing crossings become the
// sentinel frequency; the search continues either way.
func (st *run) measure(ctx context.Context, c Candidate) (float64, bool) {
	st.res.OracleCalls++
	m, err := st.Oracle.Measure(ctx, c)
	if err != nil {
		logf("oracle failed for %s, using %.4gHz: %v", c, st.opts.NotFoundHz, err)
		return st.opts.NotFoundHz, false
	}
	if !m.Found || !(m.FrequencyHz > 0) {
		return st.opts.NotFoundHz, false
	}
	return m.FrequencyHz, true
}

// probe is handed to strategies for slope estimation. Probe measurements
// count toward the best-fit record like any other measurement.
func (st *run) probe(ctx context.Context, c Candidate) float64 {
	c = st.opts.Bounds.Clamp(c)
	st.probes++
	freq, _ := st.measure(ctx, c)
	st.tracker.Observe(len(st.res.Iterations), c, freq, st.opts.TargetHz)
	return freq
}

// jitter scales resistance by 1 ± U(JitterMin, JitterMax) with a random sign.
// The sign flips when the bounds would swallow the move.
func (st *run) jitter(c Candidate) Candidate {
	u, sign := st.uniform(), 1.0
	if st.uniform() < 0.5 {
		sign = -1
	}
	mag := st.opts.JitterMin + u*(st.opts.JitterMax-st.opts.JitterMin)
	j := c
	j.Resistance = c.Resistance * (1 + sign*mag)
	j = st.opts.Bounds.Clamp(j)
	if j.Resistance == c.Resistance {
		j.Resistance = c.Resistance * (1 - sign*mag)
		j = st.opts.Bounds.Clamp(j)
	}
	return j
}

func (st *run) uniform() float64 {
	if st.Rand != nil {
		return st.Rand.Float64()
	}
	return rand.Float64()
}
