package report

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/rctune/internal/monitoring"
	"github.com/banshee-data/rctune/internal/tuner"
)

var logf = monitoring.Tagged("report")

// Output file names written by PlotReporter.
const (
	ResponsePlotName    = "response.png"
	ConvergencePlotName = "convergence.png"
)

var (
	responseColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	markerColor   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	targetColor   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// PlotReporter redraws the magnitude response of the current candidate after
// every iteration and writes a convergence plot when the run finishes.
type PlotReporter struct {
	Dir    string
	Width  vg.Length
	Height vg.Length

	history []tuner.Event
	err     error
}

// NewPlotReporter writes PNGs into dir, which must exist.
func NewPlotReporter(dir string) *PlotReporter {
	return &PlotReporter{Dir: dir, Width: 8 * vg.Inch, Height: 5 * vg.Inch}
}

// Err returns the first plotting error. Plot failures never stop a run.
func (p *PlotReporter) Err() error { return p.err }

func (p *PlotReporter) fail(err error) {
	if err == nil {
		return
	}
	logf("plot: %v", err)
	if p.err == nil {
		p.err = err
	}
}

func (p *PlotReporter) Report(ev tuner.Event) {
	p.history = append(p.history, ev)
	p.fail(p.saveResponse(ev))
}

func (p *PlotReporter) Finish(res *tuner.Result) {
	if res == nil || len(p.history) == 0 {
		return
	}
	p.fail(p.saveConvergence(res))
}

func (p *PlotReporter) saveResponse(ev tuner.Event) error {
	if len(ev.Response) < 2 {
		return nil
	}
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Iteration %d (%s): %s", ev.Iteration, ev.Phase, ev.Candidate)
	pl.X.Label.Text = "Frequency (Hz)"
	pl.Y.Label.Text = "|H|"
	pl.X.Scale = plot.LogScale{}
	pl.X.Tick.Marker = plot.LogTicks{Prec: -1}
	pl.Y.Min, pl.Y.Max = 0, 1.05

	pts := make(plotter.XYs, len(ev.Response))
	for i, r := range ev.Response {
		pts[i] = plotter.XY{X: r.FrequencyHz, Y: r.Magnitude}
	}
	curve, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	curve.Color = responseColor
	curve.Width = vg.Points(1.5)
	pl.Add(curve)
	pl.Legend.Add("response", curve)

	lo, hi := ev.Response[0].FrequencyHz, ev.Response[len(ev.Response)-1].FrequencyHz
	threshold, err := plotter.NewLine(plotter.XYs{{X: lo, Y: tuner.CutoffRatio}, {X: hi, Y: tuner.CutoffRatio}})
	if err != nil {
		return err
	}
	threshold.Color = targetColor
	threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	pl.Add(threshold)
	pl.Legend.Add("-3 dB", threshold)

	if ev.Found && ev.FrequencyHz >= lo && ev.FrequencyHz <= hi {
		mark, err := plotter.NewScatter(plotter.XYs{{X: ev.FrequencyHz, Y: tuner.CutoffRatio}})
		if err != nil {
			return err
		}
		mark.Color = markerColor
		mark.Radius = vg.Points(4)
		pl.Add(mark)
		pl.Legend.Add("measured cutoff", mark)
	}

	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10

	path := filepath.Join(p.Dir, ResponsePlotName)
	if err := pl.Save(p.Width, p.Height, path); err != nil {
		return fmt.Errorf("save response plot: %w", err)
	}
	return nil
}

func (p *PlotReporter) saveConvergence(res *tuner.Result) error {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s run %s: %s", res.Strategy, shortID(res.RunID), res.Status)
	pl.X.Label.Text = "Iteration"
	pl.Y.Label.Text = "Cutoff (Hz)"
	pl.Y.Scale = plot.LogScale{}
	pl.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	measured := make(plotter.XYs, 0, len(p.history))
	var best plotter.XYs
	for _, ev := range p.history {
		if !(ev.FrequencyHz > 0) {
			continue
		}
		pt := plotter.XY{X: float64(ev.Iteration), Y: ev.FrequencyHz}
		measured = append(measured, pt)
		if ev.Best {
			best = append(best, pt)
		}
	}
	if len(measured) == 0 {
		return nil
	}

	line, err := plotter.NewLine(measured)
	if err != nil {
		return err
	}
	line.Color = responseColor
	line.Width = vg.Points(1)
	pl.Add(line)
	pl.Legend.Add("measured", line)

	last := measured[len(measured)-1].X
	target, err := plotter.NewLine(plotter.XYs{{X: 0, Y: res.TargetHz}, {X: last, Y: res.TargetHz}})
	if err != nil {
		return err
	}
	target.Color = targetColor
	target.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	pl.Add(target)
	pl.Legend.Add("target", target)

	if len(best) > 0 {
		sc, err := plotter.NewScatter(best)
		if err != nil {
			return err
		}
		sc.Color = markerColor
		pl.Add(sc)
		pl.Legend.Add("new best", sc)
	}

	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10

	path := filepath.Join(p.Dir, ConvergencePlotName)
	if err := pl.Save(p.Width, p.Height, path); err != nil {
		return fmt.Errorf("save convergence plot: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
