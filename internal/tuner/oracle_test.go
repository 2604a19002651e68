package tuner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdealRCMeasure(t *testing.T) {
	o := NewIdealRC()
	ctx := context.Background()

	m, err := o.Measure(ctx, Candidate{Resistance: 1000, Capacitance: 1e-9})
	require.NoError(t, err)
	assert.True(t, m.Found)
	assert.InDelta(t, 159154.94, m.FrequencyHz, 0.01)

	// 1/(2π·10·50fF) ≈ 318 GHz, above the 200 GHz sweep stop
	m, err = o.Measure(ctx, Candidate{Resistance: 10, Capacitance: 50e-15})
	require.NoError(t, err)
	assert.False(t, m.Found)

	// 1/(2π·100k·1µF) ≈ 1.6 Hz is inside, 1 MΩ would not be
	m, err = o.Measure(ctx, Candidate{Resistance: 1e5, Capacitance: 1e-6})
	require.NoError(t, err)
	assert.True(t, m.Found)
	m, err = o.Measure(ctx, Candidate{Resistance: 1e6, Capacitance: 1e-6})
	require.NoError(t, err)
	assert.False(t, m.Found)
}

func TestIdealRCCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := NewIdealRC().Measure(ctx, Candidate{Resistance: 1000, Capacitance: 1e-9})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, m.Found)
}

func TestSweepValidate(t *testing.T) {
	assert.NoError(t, DefaultSweep().Validate())

	for _, s := range []Sweep{
		{PointsPerDecade: 0, StartHz: 1, StopHz: 10},
		{PointsPerDecade: 10, StartHz: 0, StopHz: 10},
		{PointsPerDecade: 10, StartHz: 10, StopHz: 10},
	} {
		err := s.Validate()
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%+v", s)
	}
}

func TestOracleFunc(t *testing.T) {
	var got Candidate
	o := OracleFunc(func(_ context.Context, c Candidate) (Measurement, error) {
		got = c
		return Crossing(42), nil
	})
	c := Candidate{Resistance: 1, Capacitance: 2}
	m, err := o.Measure(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Equal(t, Measurement{FrequencyHz: 42, Found: true}, m)
}
