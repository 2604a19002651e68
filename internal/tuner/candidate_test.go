package tuner

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdealCutoff(t *testing.T) {
	c := Candidate{Resistance: 1000, Capacitance: 1e-9}
	assert.InDelta(t, 159154.94, c.IdealCutoff(), 0.01)

	zero := Candidate{}
	assert.True(t, math.IsInf(zero.IdealCutoff(), 1))
}

func TestCapacitanceFor(t *testing.T) {
	c := CapacitanceFor(1000, 5e9)
	cand := Candidate{Resistance: 1000, Capacitance: c}
	assert.InDelta(t, 5e9, cand.IdealCutoff(), 1)
	assert.InDelta(t, 31.83e-15, c, 0.01e-15)
}

func TestBoundsValidate(t *testing.T) {
	testCases := []struct {
		name    string
		bounds  Bounds
		wantErr bool
	}{
		{"defaults", DefaultBounds(), false},
		{"zero_min_resistance", Bounds{0, 10, 1e-12, 1e-9}, true},
		{"inverted_resistance", Bounds{100, 10, 1e-12, 1e-9}, true},
		{"equal_capacitance", Bounds{10, 100, 1e-9, 1e-9}, true},
		{"negative_capacitance", Bounds{10, 100, -1e-12, 1e-9}, true},
		{"nan", Bounds{math.NaN(), 100, 1e-12, 1e-9}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.bounds.Validate()
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestBoundsClamp(t *testing.T) {
	b := DefaultBounds()

	got := b.Clamp(Candidate{Resistance: 5, Capacitance: 1e-3})
	assert.Equal(t, Candidate{Resistance: 10, Capacitance: 1e-6}, got)
	assert.True(t, b.Contains(got))

	inside := Candidate{Resistance: 1000, Capacitance: 1e-12}
	assert.Equal(t, inside, b.Clamp(inside))

	got = b.Clamp(Candidate{Resistance: 1e9, Capacitance: 1e-18})
	assert.Equal(t, Candidate{Resistance: 100000, Capacitance: 50e-15}, got)
}

func TestTrackerOnlyImprovesStrictly(t *testing.T) {
	tr := NewTracker()
	_, ok := tr.Best()
	assert.False(t, ok)

	a := Candidate{Resistance: 100, Capacitance: 1e-12}
	b := Candidate{Resistance: 200, Capacitance: 1e-12}

	assert.True(t, tr.Observe(0, a, 110, 100))
	// equal error is not an improvement
	assert.False(t, tr.Observe(1, b, 90, 100))
	assert.False(t, tr.Observe(2, b, 150, 100))
	assert.True(t, tr.Observe(3, b, 101, 100))
	assert.False(t, tr.Observe(4, a, math.NaN(), 100))

	best, ok := tr.Best()
	require.True(t, ok)
	assert.Equal(t, BestFit{Candidate: b, FrequencyHz: 101, AbsError: 1, Iteration: 3}, best)
	assert.InDelta(t, 0.01, best.RelativeError(100), 1e-12)
}

func TestHistoryRounding(t *testing.T) {
	h := NewHistory()
	c := Candidate{Resistance: 580.123, Capacitance: 50.001e-15}

	assert.False(t, h.Visit(c))
	// differences below 0.01 Ω and 0.01 fF round to the same state
	assert.True(t, h.Visit(Candidate{Resistance: 580.1249, Capacitance: 50.0049e-15}))
	assert.False(t, h.Visit(Candidate{Resistance: 580.14, Capacitance: 50.001e-15}))
	assert.False(t, h.Visit(Candidate{Resistance: 580.123, Capacitance: 50.02e-15}))
	assert.Equal(t, 3, h.Len())

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Visit(c))
}

func TestIdealResponse(t *testing.T) {
	c := Candidate{Resistance: 1000, Capacitance: 1e-9}
	resp := IdealResponse(c, 1, 1e11, 100)
	require.Len(t, resp, 100)

	assert.InDelta(t, 1.0, resp[0].FrequencyHz, 1e-9)
	assert.InDelta(t, 1e11, resp[99].FrequencyHz, 1)
	assert.InDelta(t, 1.0, resp[0].Magnitude, 1e-6)
	for i := 1; i < len(resp); i++ {
		assert.Greater(t, resp[i].FrequencyHz, resp[i-1].FrequencyHz)
		assert.LessOrEqual(t, resp[i].Magnitude, resp[i-1].Magnitude)
	}

	assert.Nil(t, IdealResponse(c, 0, 10, 100))
	assert.Nil(t, IdealResponse(c, 1, 10, 1))
	assert.Len(t, DisplayResponse(c), 100)
}
