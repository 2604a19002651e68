// Package spice measures RC cutoffs by running ngspice in batch mode. Each
// measurement renders a netlist for the candidate, runs the simulator and
// scans the wrdata output for the -3 dB crossing.
package spice

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/rctune/internal/tuner"
)

// Netlist is the RC low-pass test bench: a 1 V AC source driving R1 into C1
// to ground, swept by decade, with v(out) written to OutputPath.
type Netlist struct {
	Title      string
	Candidate  tuner.Candidate
	Sweep      tuner.Sweep
	OutputPath string
}

// Render returns the netlist text passed to ngspice -b.
func (n Netlist) Render() string {
	title := n.Title
	if title == "" {
		title = "rctune RC low-pass"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "* %s\n", title)
	b.WriteString("V1 in 0 AC 1\n")
	fmt.Fprintf(&b, "R1 in out %s\n", value(n.Candidate.Resistance))
	fmt.Fprintf(&b, "C1 out 0 %s\n", value(n.Candidate.Capacitance))
	fmt.Fprintf(&b, ".ac dec %d %s %s\n", n.Sweep.PointsPerDecade, value(n.Sweep.StartHz), value(n.Sweep.StopHz))
	b.WriteString(".control\n")
	b.WriteString("run\n")
	fmt.Fprintf(&b, "wrdata %s v(out)\n", n.OutputPath)
	b.WriteString("quit\n")
	b.WriteString(".endc\n")
	b.WriteString(".end\n")
	return b.String()
}

// value prints a number ngspice reads back exactly. Plain exponent notation
// avoids SPICE suffix ambiguity ("M" is milli there).
func value(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
