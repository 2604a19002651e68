package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/rctune/internal/tuner"
	"github.com/banshee-data/rctune/internal/units"
)

// WriteSummary prints the end-of-run table shown by the CLI.
func WriteSummary(w io.Writer, res *tuner.Result) error {
	if res == nil {
		return fmt.Errorf("no result to summarise")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "strategy\t%s\n", res.Strategy)
	fmt.Fprintf(tw, "status\t%s\n", res.Status)
	fmt.Fprintf(tw, "target\t%s ± %s\n", units.Format(res.TargetHz, units.Hertz), units.Format(res.ToleranceHz, units.Hertz))
	fmt.Fprintf(tw, "iterations\t%d (%d oracle calls)\n", len(res.Iterations), res.OracleCalls)
	if len(res.Iterations) > 0 {
		fmt.Fprintf(tw, "best R\t%s\n", units.Format(res.Best.Candidate.Resistance, units.Ohm))
		fmt.Fprintf(tw, "best C\t%s\n", units.Format(res.Best.Candidate.Capacitance, units.Farad))
		fmt.Fprintf(tw, "best cutoff\t%s (iteration %d)\n", units.Format(res.Best.FrequencyHz, units.Hertz), res.Best.Iteration)
		fmt.Fprintf(tw, "error\t%.4f%%\n", 100*res.Best.RelativeError(res.TargetHz))
	}
	fmt.Fprintf(tw, "within tolerance\t%t\n", res.WithinTolerance())
	fmt.Fprintf(tw, "elapsed\t%s\n", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	return tw.Flush()
}

// WriteSensitivity prints the Monte Carlo spread.
func WriteSensitivity(w io.Writer, rep tuner.SensitivityReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "nominal\t%s\n", rep.Nominal)
	fmt.Fprintf(tw, "nominal cutoff\t%s\n", units.Format(rep.Nominal.IdealCutoff(), units.Hertz))
	fmt.Fprintf(tw, "tolerance\t%.2f%%\n", rep.TolerancePct)
	fmt.Fprintf(tw, "samples\t%d of %d (%d misses)\n", rep.Samples, rep.Runs, rep.Misses)
	if rep.Clamped > 0 {
		fmt.Fprintf(tw, "clamped\t%d of %d draws held at a component bound, spread understated\n", rep.Clamped, rep.Runs)
	}
	if rep.Samples > 0 {
		fmt.Fprintf(tw, "min\t%s\n", units.Format(rep.MinHz, units.Hertz))
		fmt.Fprintf(tw, "max\t%s\n", units.Format(rep.MaxHz, units.Hertz))
		fmt.Fprintf(tw, "mean\t%s\n", units.Format(rep.MeanHz, units.Hertz))
		fmt.Fprintf(tw, "stddev\t%s\n", units.Format(rep.StdDevHz, units.Hertz))
	}
	return tw.Flush()
}
