package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/rctune/internal/tuner"
	"github.com/banshee-data/rctune/internal/units"
)

// histogramBins is the number of bars in the Monte Carlo cutoff histogram.
const histogramBins = 20

// WriteHTML renders a self-contained dashboard for a run: measured cutoff
// against target per iteration, relative error, and, for Monte Carlo runs,
// a histogram of the sampled cutoffs.
func WriteHTML(w io.Writer, res *tuner.Result) error {
	if res == nil {
		return fmt.Errorf("no result to render")
	}

	page := components.NewPage()
	page.PageTitle = "rctune " + res.Strategy
	page.AddCharts(convergenceChart(res), errorChart(res))
	if res.Strategy == "montecarlo" {
		page.AddCharts(histogramChart(res))
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

func iterationAxis(res *tuner.Result) []string {
	x := make([]string, len(res.Iterations))
	for i, it := range res.Iterations {
		x[i] = strconv.Itoa(it.Index)
	}
	return x
}

func convergenceChart(res *tuner.Result) *charts.Line {
	measured := make([]opts.LineData, len(res.Iterations))
	target := make([]opts.LineData, len(res.Iterations))
	for i, it := range res.Iterations {
		measured[i] = opts.LineData{Value: it.FrequencyHz}
		target[i] = opts.LineData{Value: res.TargetHz}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "rctune convergence", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title: "Measured cutoff",
			Subtitle: fmt.Sprintf("run=%s status=%s best=%s target=%s",
				shortID(res.RunID), res.Status,
				units.Format(res.Best.FrequencyHz, units.Hertz),
				units.Format(res.TargetHz, units.Hertz)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Hz", Type: "log"}),
	)
	line.SetXAxis(iterationAxis(res)).
		AddSeries("measured", measured).
		AddSeries("target", target, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
	return line
}

func errorChart(res *tuner.Result) *charts.Line {
	errs := make([]opts.LineData, len(res.Iterations))
	for i, it := range res.Iterations {
		errs[i] = opts.LineData{Value: 100 * it.AbsError / res.TargetHz}
	}
	tol := 100 * res.ToleranceHz / res.TargetHz
	band := make([]opts.LineData, len(res.Iterations))
	for i := range band {
		band[i] = opts.LineData{Value: tol}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Relative error (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "%", Type: "log"}),
	)
	line.SetXAxis(iterationAxis(res)).
		AddSeries("error", errs).
		AddSeries("tolerance", band, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
	return line
}

func histogramChart(res *tuner.Result) *charts.Bar {
	var freqs []float64
	for _, it := range res.Iterations {
		if it.Found {
			freqs = append(freqs, it.FrequencyHz)
		}
	}
	labels, counts := histogram(freqs, histogramBins)

	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		data[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cutoff distribution", Subtitle: fmt.Sprintf("samples=%d", len(freqs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("samples", data)
	return bar
}

// histogram splits values into n equal-width bins and labels each bin by its
// centre. A zero-width range collapses into a single bin.
func histogram(values []float64, n int) ([]string, []int) {
	if len(values) == 0 || n <= 0 {
		return nil, nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return []string{units.Format(lo, units.Hertz)}, []int{len(values)}
	}

	width := (hi - lo) / float64(n)
	counts := make([]int, n)
	for _, v := range values {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		counts[i]++
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = units.Format(lo+(float64(i)+0.5)*width, units.Hertz)
	}
	return labels, counts
}
