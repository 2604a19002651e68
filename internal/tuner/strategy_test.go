package tuner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func measureIdeal(t *testing.T, o Oracle, c Candidate) float64 {
	t.Helper()
	m, err := o.Measure(context.Background(), c)
	require.NoError(t, err)
	if !m.Found {
		return DefaultNotFoundHz
	}
	return m.FrequencyHz
}

func TestDualBinaryBracketsShrink(t *testing.T) {
	ctx := context.Background()
	oracle := NewIdealRC()
	s := NewDualBinary()
	p := Problem{TargetHz: 5e9, ToleranceHz: 0, Bounds: DefaultBounds()}

	c := s.Init(p)
	assert.Equal(t, Candidate{Resistance: 50005, Capacitance: (50e-15 + 1e-6) / 2}, c)

	prevR, prevC := s.Brackets()
	for i := 0; i < 40; i++ {
		f := measureIdeal(t, oracle, c)
		next, err := s.Advance(ctx, Observation{Iteration: i, Candidate: c, FrequencyHz: f}, nil)
		require.NoError(t, err)

		r, cb := s.Brackets()
		assert.Less(t, r[0], r[1], "resistance bracket inverted at %d", i)
		assert.Less(t, cb[0], cb[1], "capacitance bracket inverted at %d", i)
		assert.Less(t, r[1]-r[0], prevR[1]-prevR[0], "resistance bracket did not shrink at %d", i)
		assert.Less(t, cb[1]-cb[0], prevC[1]-prevC[0], "capacitance bracket did not shrink at %d", i)
		assert.True(t, p.Bounds.Contains(next))

		prevR, prevC = r, cb
		c = next
	}
}

func TestDualBinaryDirection(t *testing.T) {
	s := NewDualBinary()
	p := Problem{TargetHz: 1e6, Bounds: Bounds{MinResistance: 10, MaxResistance: 110, MinCapacitance: 1e-12, MaxCapacitance: 3e-12}}
	c := s.Init(p)
	assert.Equal(t, 60.0, c.Resistance)
	assert.InDelta(t, 2e-12, c.Capacitance, 1e-24)

	// above target: time constant must grow, lower bounds move up
	next, err := s.Advance(context.Background(), Observation{Candidate: c, FrequencyHz: 2e6}, nil)
	require.NoError(t, err)
	r, cb := s.Brackets()
	assert.Equal(t, [2]float64{60, 110}, r)
	assert.Equal(t, c.Capacitance, cb[0])
	assert.Equal(t, 3e-12, cb[1])
	assert.Equal(t, 85.0, next.Resistance)
	assert.InDelta(t, 2.5e-12, next.Capacitance, 1e-24)

	// at or below target: upper bounds move down
	next, err = s.Advance(context.Background(), Observation{Candidate: next, FrequencyHz: 1e6}, nil)
	require.NoError(t, err)
	r, _ = s.Brackets()
	assert.Equal(t, [2]float64{60, 85}, r)
	assert.Equal(t, 72.5, next.Resistance)
}

func newtonProblem(target float64) Problem {
	return Problem{TargetHz: target, ToleranceHz: target * 0.005, Bounds: DefaultBounds()}
}

func TestNewtonInitClampsCapacitance(t *testing.T) {
	s := NewNewton(DefaultNewtonParams())
	c := s.Init(newtonProblem(5e9))
	// 1/(2π·1000·5e9) is below the 50 fF floor
	assert.Equal(t, Candidate{Resistance: 1000, Capacitance: 50e-15}, c)

	c = s.Init(newtonProblem(1e6))
	assert.Equal(t, 1000.0, c.Resistance)
	assert.InDelta(t, 1e6, c.IdealCutoff(), 1e-3)
}

func TestNewtonPhase(t *testing.T) {
	s := NewNewton(DefaultNewtonParams())
	s.Init(newtonProblem(5e9))

	assert.Equal(t, "fine", s.Phase(Observation{FrequencyHz: 5.4e9}))
	assert.Equal(t, "fine", s.Phase(Observation{FrequencyHz: 4.6e9}))
	assert.Equal(t, "newt", s.Phase(Observation{FrequencyHz: 6e9}))
	assert.Equal(t, "newt", s.Phase(Observation{FrequencyHz: DefaultNotFoundHz}))
}

func TestNewtonStep(t *testing.T) {
	ctx := context.Background()
	oracle := NewIdealRC()
	s := NewNewton(DefaultNewtonParams())
	p := newtonProblem(5e9)
	c := s.Init(p)

	var probed []Candidate
	probe := func(ctx context.Context, pc Candidate) float64 {
		probed = append(probed, pc)
		return measureIdeal(t, oracle, pc)
	}

	next, err := s.Advance(ctx, Observation{Candidate: c, FrequencyHz: measureIdeal(t, oracle, c)}, probe)
	require.NoError(t, err)
	require.Len(t, probed, 1)
	assert.InDelta(t, 1050, probed[0].Resistance, 1e-9)
	assert.Equal(t, c.Capacitance, next.Capacitance)
	// damped step toward the linearised root lands within 10% of target
	assert.InDelta(t, 580, next.Resistance, 2)
	assert.InDelta(t, 5e9, next.IdealCutoff(), 0.1*5e9)
}

func TestNewtonProbeStaysInsideBounds(t *testing.T) {
	s := NewNewton(DefaultNewtonParams())
	s.Init(newtonProblem(5e9))
	cur := Candidate{Resistance: 99000, Capacitance: 1e-12}

	var probed Candidate
	_, err := s.Advance(context.Background(), Observation{Candidate: cur, FrequencyHz: 1e3},
		func(_ context.Context, c Candidate) float64 {
			probed = c
			return 1e3 - 1
		})
	require.NoError(t, err)
	assert.InDelta(t, 99000*0.95, probed.Resistance, 1e-6)
}

func TestNewtonEnforce(t *testing.T) {
	b := DefaultBounds()

	testCases := []struct {
		name    string
		target  float64
		cur     Candidate
		f1, f2  float64
		want    Candidate
		wantErr error
	}{
		{
			name:   "above_max_resets_and_grows_capacitance",
			target: 5e8,
			cur:    Candidate{Resistance: 90000, Capacitance: 1e-12},
			f1:     1e9,
			f2:     1e9 - 4500,
			want:   Candidate{Resistance: 50000, Capacitance: 2e-12},
		},
		{
			name:   "below_min_resets_and_shrinks_capacitance",
			target: 5e9,
			cur:    Candidate{Resistance: 100, Capacitance: 100e-15},
			f1:     1e9,
			f2:     1e9 - 5e6,
			want:   Candidate{Resistance: 500, Capacitance: 50e-15},
		},
		{
			name:    "below_min_at_capacitance_floor",
			target:  5e9,
			cur:     Candidate{Resistance: 100, Capacitance: 50e-15},
			f1:      1e9,
			f2:      1e9 - 5e6,
			want:    Candidate{Resistance: 100, Capacitance: 50e-15},
			wantErr: ErrPhysicalLimit,
		},
		{
			name:   "flat_below_target_kicks_down",
			target: 5e9,
			cur:    Candidate{Resistance: 1000, Capacitance: 1e-12},
			f1:     1e9,
			f2:     1e9,
			want:   Candidate{Resistance: 500, Capacitance: 1e-12},
		},
		{
			name:   "flat_above_target_kicks_up",
			target: 5e9,
			cur:    Candidate{Resistance: 1000, Capacitance: 1e-12},
			f1:     DefaultNotFoundHz,
			f2:     DefaultNotFoundHz,
			want:   Candidate{Resistance: 2000, Capacitance: 1e-12},
		},
		{
			name:   "kick_past_max_resets",
			target: 5e9,
			cur:    Candidate{Resistance: 80000, Capacitance: 1e-12},
			f1:     DefaultNotFoundHz,
			f2:     DefaultNotFoundHz,
			want:   Candidate{Resistance: 50000, Capacitance: 2e-12},
		},
		{
			name:   "capacitance_growth_capped",
			target: 5e9,
			cur:    Candidate{Resistance: 80000, Capacitance: 0.8e-6},
			f1:     DefaultNotFoundHz,
			f2:     DefaultNotFoundHz,
			want:   Candidate{Resistance: 50000, Capacitance: 1e-6},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewNewton(DefaultNewtonParams())
			s.Init(Problem{TargetHz: tc.target, ToleranceHz: tc.target * 0.005, Bounds: b})

			next, err := s.Advance(context.Background(),
				Observation{Candidate: tc.cur, FrequencyHz: tc.f1},
				func(context.Context, Candidate) float64 { return tc.f2 })

			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr))
			} else {
				require.NoError(t, err)
				assert.True(t, b.Contains(next))
			}
			assert.InDelta(t, tc.want.Resistance, next.Resistance, 1e-9)
			assert.InDelta(t, tc.want.Capacitance, next.Capacitance, 1e-24)
		})
	}
}

func TestNewtonNudgeAlternates(t *testing.T) {
	s := NewNewton(DefaultNewtonParams())
	s.Init(newtonProblem(5e9))
	start := Candidate{Resistance: 600, Capacitance: 50e-15}

	noProbe := func(context.Context, Candidate) float64 {
		t.Fatal("fine tuning must not probe")
		return 0
	}

	// above target: grow R first, then C
	c1, err := s.Advance(context.Background(), Observation{Candidate: start, FrequencyHz: 5.2e9}, noProbe)
	require.NoError(t, err)
	assert.InDelta(t, 603, c1.Resistance, 1e-9)
	assert.Equal(t, start.Capacitance, c1.Capacitance)

	c2, err := s.Advance(context.Background(), Observation{Candidate: c1, FrequencyHz: 5.1e9}, noProbe)
	require.NoError(t, err)
	assert.Equal(t, c1.Resistance, c2.Resistance)
	assert.InDelta(t, 50.25e-15, c2.Capacitance, 1e-20)

	// below target: shrink, clamped at the capacitance floor
	c3, err := s.Advance(context.Background(), Observation{Candidate: c2, FrequencyHz: 4.9e9}, noProbe)
	require.NoError(t, err)
	assert.InDelta(t, c2.Resistance*0.995, c3.Resistance, 1e-9)

	c4, err := s.Advance(context.Background(), Observation{Candidate: Candidate{Resistance: 600, Capacitance: 50e-15}, FrequencyHz: 4.9e9}, noProbe)
	require.NoError(t, err)
	assert.Equal(t, 50e-15, c4.Capacitance)
}
