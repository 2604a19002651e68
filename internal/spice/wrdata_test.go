package spice

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rctune/internal/tuner"
)

func TestParseWrdata(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  []tuner.ResponsePoint
	}{
		{
			name:  "two_columns",
			input: " 1.000000e+00  1.000000e+00\n 1.000000e+01  7.000000e-01\n",
			want:  []tuner.ResponsePoint{{FrequencyHz: 1, Magnitude: 1}, {FrequencyHz: 10, Magnitude: 0.7}},
		},
		{
			name:  "complex_rows_use_magnitude",
			input: "1 0.6 -0.8\n10 0.3 -0.4\n",
			want:  []tuner.ResponsePoint{{FrequencyHz: 1, Magnitude: 1}, {FrequencyHz: 10, Magnitude: 0.5}},
		},
		{
			name:  "negative_real_value",
			input: "1 -0.5\n",
			want:  []tuner.ResponsePoint{{FrequencyHz: 1, Magnitude: 0.5}},
		},
		{
			name:  "skips_headers_blank_and_short_rows",
			input: "frequency v(out)\n\n42\n1 1\n2 oops\n3 nan\n4 0.5\n",
			want:  []tuner.ResponsePoint{{FrequencyHz: 1, Magnitude: 1}, {FrequencyHz: 4, Magnitude: 0.5}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseWrdata(strings.NewReader(tc.input))
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range got {
				assert.InDelta(t, tc.want[i].FrequencyHz, got[i].FrequencyHz, 1e-12)
				assert.InDelta(t, tc.want[i].Magnitude, got[i].Magnitude, 1e-12)
			}
		})
	}
}

func TestParseWrdataEmpty(t *testing.T) {
	for _, input := range []string{"", "\n\n", "not numbers here\n"} {
		_, err := ParseWrdata(strings.NewReader(input))
		assert.True(t, errors.Is(err, ErrNoData), "input %q: %v", input, err)
	}
}

func TestCutoff(t *testing.T) {
	pts := []tuner.ResponsePoint{
		{FrequencyHz: 10, Magnitude: 1.0},
		{FrequencyHz: 100, Magnitude: 0.8},
		{FrequencyHz: 1000, Magnitude: 0.6},
		{FrequencyHz: 10000, Magnitude: 0.1},
	}

	m := Cutoff(pts, false)
	assert.Equal(t, tuner.Crossing(1000), m)

	m = Cutoff(pts, true)
	require.True(t, m.Found)
	want := math.Pow(10, 2+(0.8-1/math.Sqrt2)/0.2)
	assert.InEpsilon(t, want, m.FrequencyHz, 1e-9)
	assert.Greater(t, m.FrequencyHz, 100.0)
	assert.Less(t, m.FrequencyHz, 1000.0)
}

func TestCutoffReferenceIsFirstRow(t *testing.T) {
	// a source of 2 V puts the threshold at 1.414, not 0.707
	pts := []tuner.ResponsePoint{
		{FrequencyHz: 1, Magnitude: 2.0},
		{FrequencyHz: 10, Magnitude: 1.5},
		{FrequencyHz: 100, Magnitude: 1.4},
	}
	assert.Equal(t, tuner.Crossing(100), Cutoff(pts, false))
}

func TestCutoffNotFound(t *testing.T) {
	assert.False(t, Cutoff(nil, false).Found)
	assert.False(t, Cutoff([]tuner.ResponsePoint{{FrequencyHz: 1, Magnitude: 0}}, false).Found)
	flat := []tuner.ResponsePoint{{FrequencyHz: 1, Magnitude: 1}, {FrequencyHz: 10, Magnitude: 0.9}}
	assert.False(t, Cutoff(flat, true).Found)
}

func TestNetlistRender(t *testing.T) {
	n := Netlist{
		Candidate:  tuner.Candidate{Resistance: 580.5, Capacitance: 50e-15},
		Sweep:      tuner.DefaultSweep(),
		OutputPath: "work/output.txt",
	}
	got := n.Render()

	for _, line := range []string{
		"* rctune RC low-pass",
		"V1 in 0 AC 1",
		"R1 in out 580.5",
		"C1 out 0 5e-14",
		".ac dec 20 1 2e+11",
		"wrdata work/output.txt v(out)",
		".endc",
		".end",
	} {
		assert.Contains(t, got, line+"\n")
	}
	assert.True(t, strings.HasPrefix(got, "* rctune RC low-pass\n"))
}
