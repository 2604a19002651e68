// Command rctune tunes an RC low-pass filter toward a target cutoff
// frequency, optionally characterises the result with a Monte Carlo
// tolerance sweep, and keeps a history of runs in SQLite.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/rctune/internal/config"
	"github.com/banshee-data/rctune/internal/fsutil"
	"github.com/banshee-data/rctune/internal/monitoring"
	"github.com/banshee-data/rctune/internal/report"
	"github.com/banshee-data/rctune/internal/spice"
	"github.com/banshee-data/rctune/internal/storage/sqlite"
	"github.com/banshee-data/rctune/internal/tuner"
	"github.com/banshee-data/rctune/internal/units"
	"github.com/banshee-data/rctune/internal/version"
)

const (
	modeTune       = "tune"
	modeMonteCarlo = "montecarlo"
	modeHistory    = "history"
)

type options struct {
	mode        string
	configPath  string
	strategy    string
	target      string
	tolerance   float64
	iterations  int
	seed        uint64
	oracle      string
	ngspice     string
	workDir     string
	plotDir     string
	htmlPath    string
	xlsxPath    string
	csvPath     string
	dbPath      string
	mcTolerance float64
	mcRuns      int
	limit       int
	showRun     string
	deleteRun   string
	quiet       bool
	showVersion bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: map[string]bool{}}
	fs := flag.NewFlagSet("rctune", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.mode, "mode", modeTune, "Mode: tune, montecarlo or history")
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON tuning config (defaults are used when empty)")
	fs.StringVar(&o.strategy, "strategy", "", "Search strategy: newton or binary")
	fs.StringVar(&o.target, "target", "", "Target cutoff frequency, e.g. 5G or 2.4GHz")
	fs.Float64Var(&o.tolerance, "tolerance", 0, "Relative tolerance, e.g. 0.005 for 0.5%")
	fs.IntVar(&o.iterations, "iterations", 0, "Iteration budget for the chosen strategy")
	fs.Uint64Var(&o.seed, "seed", 0, "Random seed for jitter and Monte Carlo draws (0 = time based)")
	fs.StringVar(&o.oracle, "oracle", "", "Measurement oracle: ideal or ngspice")
	fs.StringVar(&o.ngspice, "ngspice", "", "Path to the ngspice binary")
	fs.StringVar(&o.workDir, "workdir", "", "Scratch directory for netlists and simulator output")
	fs.StringVar(&o.plotDir, "plot-dir", "", "Write response and convergence PNGs into this directory")
	fs.StringVar(&o.htmlPath, "html", "", "Write an HTML convergence dashboard to this file")
	fs.StringVar(&o.xlsxPath, "xlsx", "", "Write an XLSX workbook to this file")
	fs.StringVar(&o.csvPath, "csv", "", "Stream iterations as CSV to this file")
	fs.StringVar(&o.dbPath, "db", "", "SQLite run history database")
	fs.Float64Var(&o.mcTolerance, "mc-tolerance", 0, "Monte Carlo component tolerance in percent")
	fs.IntVar(&o.mcRuns, "mc-runs", 0, "Monte Carlo sample count")
	fs.IntVar(&o.limit, "limit", 20, "Number of runs listed in history mode")
	fs.StringVar(&o.showRun, "run", "", "History mode: print the stored iterations of this run ID (or unique prefix)")
	fs.StringVar(&o.deleteRun, "delete", "", "History mode: delete this run ID (or unique prefix)")
	fs.BoolVar(&o.quiet, "quiet", false, "Suppress per-iteration log lines")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	switch o.mode {
	case modeTune, modeMonteCarlo, modeHistory:
	default:
		return nil, fmt.Errorf("unknown mode %q (want %s, %s or %s)", o.mode, modeTune, modeMonteCarlo, modeHistory)
	}
	if o.mode == modeHistory && o.dbPath == "" {
		return nil, errors.New("history mode requires -db")
	}
	if o.mode != modeHistory && (o.showRun != "" || o.deleteRun != "") {
		return nil, errors.New("-run and -delete require -mode history")
	}
	if o.showRun != "" && o.deleteRun != "" {
		return nil, errors.New("-run and -delete are mutually exclusive")
	}
	return o, nil
}

// loadConfig reads the config file (or the built-in defaults) and applies
// the flags that were set on the command line.
func loadConfig(o *options) (*config.TuningConfig, error) {
	cfg := config.DefaultTuningConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(o.configPath); err != nil {
			return nil, err
		}
	}

	if o.set["strategy"] {
		cfg.Strategy = &o.strategy
	}
	if o.set["target"] {
		cfg.Target = &o.target
	}
	if o.set["tolerance"] {
		cfg.RelativeTolerance = &o.tolerance
	}
	if o.set["iterations"] {
		it := o.iterations
		if cfg.GetStrategy() == config.StrategyBinary {
			cfg.BinaryIterations = &it
		} else {
			cfg.NewtonIterations = &it
		}
	}
	if o.set["seed"] {
		cfg.Seed = &o.seed
	}
	if o.set["oracle"] {
		cfg.Oracle = &o.oracle
	}
	if o.set["ngspice"] {
		cfg.NgspicePath = &o.ngspice
	}
	if o.set["workdir"] {
		cfg.WorkDir = &o.workDir
	}
	if o.set["mc-tolerance"] {
		cfg.MonteCarloTolerancePct = &o.mcTolerance
	}
	if o.set["mc-runs"] {
		cfg.MonteCarloRuns = &o.mcRuns
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildOracle(cfg *config.TuningConfig) tuner.Oracle {
	if cfg.GetOracle() == config.OracleNgspice {
		sim := spice.NewSimulator(cfg.GetNgspicePath(), cfg.GetWorkDir())
		sim.Timeout = cfg.GetSimulationTimeout()
		sim.Sweep = cfg.GetSweep()
		sim.Interpolate = cfg.GetInterpolateCrossing()
		return sim
	}
	return &tuner.IdealRC{Sweep: cfg.GetSweep()}
}

func buildStrategy(cfg *config.TuningConfig) tuner.Strategy {
	if cfg.GetStrategy() == config.StrategyBinary {
		return tuner.NewDualBinary()
	}
	return tuner.NewNewton(cfg.GetNewtonParams())
}

// outputs collects the optional per-run artefacts.
type outputs struct {
	reporters tuner.MultiReporter
	plots     *report.PlotReporter
	csv       *report.CSVReporter
}

func buildReporters(o *options, fsys fsutil.FileSystem) (*outputs, error) {
	out := &outputs{}
	if !o.quiet {
		out.reporters = append(out.reporters, report.LogReporter{})
	}
	if o.plotDir != "" {
		if err := fsys.MkdirAll(o.plotDir, 0o755); err != nil {
			return nil, fmt.Errorf("create plot dir: %w", err)
		}
		out.plots = report.NewPlotReporter(o.plotDir)
		out.reporters = append(out.reporters, out.plots)
	}
	if o.csvPath != "" {
		c, err := report.CreateCSV(fsys, o.csvPath)
		if err != nil {
			return nil, err
		}
		out.csv = c
		out.reporters = append(out.reporters, c)
	}
	return out, nil
}

func seedFor(cfg *config.TuningConfig) uint64 {
	if seed := cfg.GetSeed(); seed != 0 {
		return seed
	}
	return uint64(time.Now().UnixNano())
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("rctune: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}

	var store *sqlite.RunStore
	if o.dbPath != "" {
		db, err := sqlite.Open(o.dbPath)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer db.Close()
		store = sqlite.NewRunStore(db.DB)
	}

	if o.mode == modeHistory {
		switch {
		case o.deleteRun != "":
			return deleteRun(stdout, store, o.deleteRun)
		case o.showRun != "":
			return printRun(stdout, store, o.showRun)
		}
		return printHistory(stdout, store, o.limit)
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	runOpts, err := cfg.RunOptions(cfg.GetStrategy())
	if err != nil {
		return err
	}
	params, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	seed := seedFor(cfg)
	monitoring.Logf("[rctune] %s", version.String())
	monitoring.Logf("[rctune] %s target=%s strategy=%s oracle=%s seed=%d",
		o.mode, units.Format(runOpts.TargetHz, units.Hertz), cfg.GetStrategy(), cfg.GetOracle(), seed)

	fsys := fsutil.OSFileSystem{}
	out, err := buildReporters(o, fsys)
	if err != nil {
		return err
	}

	runner := tuner.NewRunner(buildOracle(cfg), runOpts, rand.New(rand.NewPCG(seed, seed)))
	runner.Reporter = out.reporters

	res, err := runner.Run(ctx, buildStrategy(cfg))
	if err != nil && res == nil {
		return err
	}
	if werr := report.WriteSummary(stdout, res); werr != nil {
		return werr
	}
	if out.plots != nil && out.plots.Err() != nil {
		monitoring.Logf("[rctune] plots incomplete: %v", out.plots.Err())
	}
	if out.csv != nil && out.csv.Err() != nil {
		monitoring.Logf("[rctune] csv incomplete: %v", out.csv.Err())
	}
	if store != nil {
		if _, serr := store.Save(res, cfg.GetOracle(), params, nil); serr != nil {
			return fmt.Errorf("save run: %w", serr)
		}
	}
	if err != nil {
		return err
	}

	final, sens := res, (*tuner.SensitivityReport)(nil)
	if o.mode == modeMonteCarlo {
		mcRunner := tuner.NewRunner(runner.Oracle, runOpts, nil)
		if !o.quiet {
			mcRunner.Reporter = report.LogReporter{}
		}
		rep, mcRes, err := tuner.RunMonteCarlo(ctx, mcRunner, res.Best.Candidate,
			cfg.GetMonteCarloTolerancePct(), cfg.GetMonteCarloRuns(), rand.NewPCG(seed, seed+1))
		if err != nil {
			return fmt.Errorf("monte carlo: %w", err)
		}
		fmt.Fprintln(stdout)
		if err := report.WriteSensitivity(stdout, rep); err != nil {
			return err
		}
		if store != nil {
			if _, err := store.Save(mcRes, cfg.GetOracle(), params, &rep); err != nil {
				return fmt.Errorf("save monte carlo run: %w", err)
			}
		}
		final, sens = mcRes, &rep
	}

	return writeArtefacts(o, fsys, final, sens)
}

func writeArtefacts(o *options, fsys fsutil.FileSystem, res *tuner.Result, sens *tuner.SensitivityReport) error {
	if o.htmlPath != "" {
		f, err := fsys.Create(o.htmlPath)
		if err != nil {
			return fmt.Errorf("create html: %w", err)
		}
		if err := report.WriteHTML(f, res); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		monitoring.Logf("[rctune] wrote %s", o.htmlPath)
	}
	if o.xlsxPath != "" {
		if err := report.SaveXLSX(o.xlsxPath, res, sens); err != nil {
			return err
		}
		monitoring.Logf("[rctune] wrote %s", o.xlsxPath)
	}
	return nil
}

func printHistory(w io.Writer, store *sqlite.RunStore, limit int) error {
	runs, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTRATEGY\tORACLE\tSTATUS\tTARGET\tBEST\tERROR\tITER")
	for _, r := range runs {
		best, errPct := bestColumns(r)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.RunID[:min(8, len(r.RunID))],
			time.Unix(0, r.StartedAt).Format(time.DateTime),
			r.Strategy, r.Oracle, r.Status,
			units.Format(r.TargetHz, units.Hertz),
			best, errPct, r.IterationCount)
	}
	return tw.Flush()
}

// bestColumns renders the best fit of a stored run. A run that never
// measured anything has no best fit.
func bestColumns(r *sqlite.Run) (best, errPct string) {
	if r.IterationCount == 0 || !(r.TargetHz > 0) {
		return "-", "-"
	}
	return units.Format(r.Best.FrequencyHz, units.Hertz), fmt.Sprintf("%.3f%%", 100*r.Best.AbsError/r.TargetHz)
}

// findRun resolves a full run ID or a unique prefix of one, as shown in the
// history table.
func findRun(store *sqlite.RunStore, id string) (*sqlite.Run, error) {
	r, err := store.Get(id)
	if !errors.Is(err, sqlite.ErrRunNotFound) {
		return r, err
	}
	runs, lerr := store.List(0)
	if lerr != nil {
		return nil, lerr
	}
	var match *sqlite.Run
	for _, c := range runs {
		if !strings.HasPrefix(c.RunID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run prefix %q is ambiguous", id)
		}
		match = c
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}

func printRun(w io.Writer, store *sqlite.RunStore, id string) error {
	r, err := findRun(store, id)
	if err != nil {
		return err
	}
	its, err := store.Iterations(r.RunID)
	if err != nil {
		return err
	}

	best, errPct := bestColumns(r)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "strategy\t%s (%s oracle)\n", r.Strategy, r.Oracle)
	fmt.Fprintf(tw, "status\t%s\n", r.Status)
	fmt.Fprintf(tw, "target\t%s ± %s\n", units.Format(r.TargetHz, units.Hertz), units.Format(r.ToleranceHz, units.Hertz))
	fmt.Fprintf(tw, "best\t%s (%s)\n", best, errPct)
	fmt.Fprintf(tw, "oracle calls\t%d\n", r.OracleCalls)
	fmt.Fprintf(tw, "elapsed\t%s\n", r.Duration().Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(its) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITER\tPHASE\tR\tC\tCUTOFF\tERROR\tFLAGS")
	for _, it := range its {
		var flags []string
		if it.Best {
			flags = append(flags, "best")
		}
		if it.Jittered {
			flags = append(flags, "jitter")
		}
		if !it.Found {
			flags = append(flags, "miss")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.3f%%\t%s\n",
			it.Index, it.Phase,
			units.Format(it.Candidate.Resistance, units.Ohm),
			units.Format(it.Candidate.Capacitance, units.Farad),
			units.Format(it.FrequencyHz, units.Hertz),
			100*it.AbsError/r.TargetHz,
			strings.Join(flags, ","))
	}
	return tw.Flush()
}

func deleteRun(w io.Writer, store *sqlite.RunStore, id string) error {
	r, err := findRun(store, id)
	if err != nil {
		return err
	}
	if err := store.Delete(r.RunID); err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted run %s\n", r.RunID)
	return nil
}
