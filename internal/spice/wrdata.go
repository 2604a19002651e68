package spice

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/rctune/internal/tuner"
)

// ErrNoData is returned when a wrdata file holds no parsable rows.
var ErrNoData = errors.New("no data rows in simulator output")

// ParseWrdata reads ngspice wrdata output. Rows are whitespace separated:
// "freq value" or, for a complex vector, "freq re im". Rows that do not parse
// are skipped. The magnitude of each row is returned in file order.
func ParseWrdata(r io.Reader) ([]tuner.ResponsePoint, error) {
	var points []tuner.ResponsePoint
	skipped := 0

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		nums, ok := parseFloats(fields)
		if !ok {
			skipped++
			continue
		}
		mag := math.Abs(nums[1])
		if len(nums) >= 3 {
			mag = math.Hypot(nums[1], nums[2])
		}
		points = append(points, tuner.ResponsePoint{FrequencyHz: nums[0], Magnitude: mag})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading simulator output: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w (%d malformed rows)", ErrNoData, skipped)
	}
	return points, nil
}

func parseFloats(fields []string) ([]float64, bool) {
	if len(fields) > 3 {
		fields = fields[:3]
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Cutoff finds the first frequency whose magnitude has fallen to 1/√2 of the
// first row's magnitude. Without interpolation the crossing is the first
// grid point at or below the threshold; with it, the frequency is
// interpolated linearly in magnitude against log frequency between the
// bracketing rows.
func Cutoff(points []tuner.ResponsePoint, interpolate bool) tuner.Measurement {
	if len(points) == 0 {
		return tuner.NoCrossing()
	}
	ref := points[0].Magnitude
	if !(ref > 0) {
		return tuner.NoCrossing()
	}
	threshold := ref * tuner.CutoffRatio

	for i, p := range points {
		if p.Magnitude > threshold {
			continue
		}
		if !interpolate || i == 0 {
			return tuner.Crossing(p.FrequencyHz)
		}
		prev := points[i-1]
		if prev.FrequencyHz <= 0 || p.FrequencyHz <= prev.FrequencyHz || prev.Magnitude == p.Magnitude {
			return tuner.Crossing(p.FrequencyHz)
		}
		t := (prev.Magnitude - threshold) / (prev.Magnitude - p.Magnitude)
		lf := math.Log(prev.FrequencyHz) + t*(math.Log(p.FrequencyHz)-math.Log(prev.FrequencyHz))
		return tuner.Crossing(math.Exp(lf))
	}
	return tuner.NoCrossing()
}
