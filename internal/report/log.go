// Package report turns tuner runs into something a person can read: log
// lines while the search runs, PNG plots, a CSV stream, and HTML, XLSX and
// console summaries once it is done.
package report

import (
	"strings"

	"github.com/banshee-data/rctune/internal/monitoring"
	"github.com/banshee-data/rctune/internal/tuner"
	"github.com/banshee-data/rctune/internal/units"
)

// compact formats v with an SI prefix and no space, e.g. "5.484GHz".
func compact(v float64, unit string) string {
	return strings.ReplaceAll(units.Format(v, unit), " ", "")
}

// LogReporter writes one line per iteration through monitoring.Logf, tagged
// with the strategy phase:
//
//	[newt] 3: R=580.46Ω C=50fF F=5.484GHz [best]
type LogReporter struct{}

func (LogReporter) Report(ev tuner.Event) {
	freq := "none"
	if ev.Found {
		freq = compact(ev.FrequencyHz, units.Hertz)
	}
	var flags string
	if ev.Jittered {
		flags += " [jitter]"
	}
	if ev.Best {
		flags += " [best]"
	}
	monitoring.Logf("[%s] %d: R=%s C=%s F=%s%s", ev.Phase, ev.Iteration,
		compact(ev.Candidate.Resistance, units.Ohm),
		compact(ev.Candidate.Capacitance, units.Farad),
		freq, flags)
}

func (LogReporter) Finish(res *tuner.Result) {
	if res == nil {
		return
	}
	monitoring.Logf("[%s] %s after %d iterations: best R=%s C=%s F=%s (%.3f%% off %s)",
		res.Strategy, res.Status, len(res.Iterations),
		compact(res.Best.Candidate.Resistance, units.Ohm),
		compact(res.Best.Candidate.Capacitance, units.Farad),
		compact(res.Best.FrequencyHz, units.Hertz),
		100*res.Best.RelativeError(res.TargetHz),
		compact(res.TargetHz, units.Hertz))
}
