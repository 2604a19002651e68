package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/rctune/internal/tuner"
	"github.com/banshee-data/rctune/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Strategy and oracle names accepted in the config and on the command line.
const (
	StrategyNewton = "newton"
	StrategyBinary = "binary"

	OracleIdeal   = "ideal"
	OracleNgspice = "ngspice"
)

// TuningConfig represents the root configuration for a tuning run. Every
// field is optional; the Get* methods supply defaults for omitted fields.
type TuningConfig struct {
	// Search goal
	Target            *string  `json:"target,omitempty"` // SI string like "5G" or "5GHz"
	RelativeTolerance *float64 `json:"relative_tolerance,omitempty"`
	Strategy          *string  `json:"strategy,omitempty"`
	NewtonIterations  *int     `json:"newton_iterations,omitempty"`
	BinaryIterations  *int     `json:"binary_iterations,omitempty"`
	Seed              *uint64  `json:"seed,omitempty"` // 0 picks a time-based seed

	// Component bounds
	MinResistance  *float64 `json:"min_resistance_ohms,omitempty"`
	MaxResistance  *float64 `json:"max_resistance_ohms,omitempty"`
	MinCapacitance *float64 `json:"min_capacitance_farads,omitempty"`
	MaxCapacitance *float64 `json:"max_capacitance_farads,omitempty"`

	// Newton constants
	StartResistance  *float64 `json:"start_resistance_ohms,omitempty"`
	FineTuneFraction *float64 `json:"fine_tune_fraction,omitempty"`
	ProbeFraction    *float64 `json:"probe_fraction,omitempty"`
	Damping          *float64 `json:"damping,omitempty"`
	SlopeFloor       *float64 `json:"slope_floor,omitempty"`
	FineStep         *float64 `json:"fine_step,omitempty"`
	HighResetOhms    *float64 `json:"high_reset_ohms,omitempty"`
	LowResetOhms     *float64 `json:"low_reset_ohms,omitempty"`

	// Loop policies
	NotFoundHz *float64 `json:"not_found_hz,omitempty"`
	JitterMin  *float64 `json:"jitter_min,omitempty"`
	JitterMax  *float64 `json:"jitter_max,omitempty"`

	// Monte Carlo
	MonteCarloTolerancePct *float64 `json:"montecarlo_tolerance_pct,omitempty"`
	MonteCarloRuns         *int     `json:"montecarlo_runs,omitempty"`

	// Oracle
	Oracle              *string  `json:"oracle,omitempty"`
	NgspicePath         *string  `json:"ngspice_path,omitempty"`
	WorkDir             *string  `json:"work_dir,omitempty"`
	SimulationTimeout   *string  `json:"simulation_timeout,omitempty"` // duration string like "30s"
	SweepPointsPerDec   *int     `json:"sweep_points_per_decade,omitempty"`
	SweepStartHz        *float64 `json:"sweep_start_hz,omitempty"`
	SweepStopHz         *float64 `json:"sweep_stop_hz,omitempty"`
	InterpolateCrossing *bool    `json:"interpolate_crossing,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to the
// value its Get* method falls back to.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		Target:                 ptrString(e.GetTarget()),
		RelativeTolerance:      ptrFloat64(e.GetRelativeTolerance()),
		Strategy:               ptrString(e.GetStrategy()),
		NewtonIterations:       ptrInt(e.GetNewtonIterations()),
		BinaryIterations:       ptrInt(e.GetBinaryIterations()),
		Seed:                   ptrUint64(e.GetSeed()),
		MinResistance:          ptrFloat64(e.GetMinResistance()),
		MaxResistance:          ptrFloat64(e.GetMaxResistance()),
		MinCapacitance:         ptrFloat64(e.GetMinCapacitance()),
		MaxCapacitance:         ptrFloat64(e.GetMaxCapacitance()),
		StartResistance:        ptrFloat64(e.GetStartResistance()),
		FineTuneFraction:       ptrFloat64(e.GetFineTuneFraction()),
		ProbeFraction:          ptrFloat64(e.GetProbeFraction()),
		Damping:                ptrFloat64(e.GetDamping()),
		SlopeFloor:             ptrFloat64(e.GetSlopeFloor()),
		FineStep:               ptrFloat64(e.GetFineStep()),
		HighResetOhms:          ptrFloat64(e.GetHighResetOhms()),
		LowResetOhms:           ptrFloat64(e.GetLowResetOhms()),
		NotFoundHz:             ptrFloat64(e.GetNotFoundHz()),
		JitterMin:              ptrFloat64(e.GetJitterMin()),
		JitterMax:              ptrFloat64(e.GetJitterMax()),
		MonteCarloTolerancePct: ptrFloat64(e.GetMonteCarloTolerancePct()),
		MonteCarloRuns:         ptrInt(e.GetMonteCarloRuns()),
		Oracle:                 ptrString(e.GetOracle()),
		NgspicePath:            ptrString(e.GetNgspicePath()),
		WorkDir:                ptrString(e.GetWorkDir()),
		SimulationTimeout:      ptrString("30s"),
		SweepPointsPerDec:      ptrInt(e.GetSweep().PointsPerDecade),
		SweepStartHz:           ptrFloat64(e.GetSweep().StartHz),
		SweepStopHz:            ptrFloat64(e.GetSweep().StopHz),
		InterpolateCrossing:    ptrBool(e.GetInterpolateCrossing()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", tuner.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks that the configuration values are valid. Every error
// wraps tuner.ErrInvalidConfig.
func (c *TuningConfig) Validate() error {
	if c.Target != nil {
		v, err := units.Parse(*c.Target)
		if err != nil {
			return invalid("target: %v", err)
		}
		if !(v > 0) {
			return invalid("target must be positive, got %q", *c.Target)
		}
	}

	if c.NotFoundHz != nil {
		target, _ := c.GetTargetHz()
		if v := *c.NotFoundHz; v < 0 || (v != 0 && v <= target) {
			return invalid("not_found_hz must lie above the target %g Hz, got %g", target, v)
		}
	}

	if c.RelativeTolerance != nil {
		if *c.RelativeTolerance <= 0 || *c.RelativeTolerance >= 1 {
			return invalid("relative_tolerance must be between 0 and 1, got %f", *c.RelativeTolerance)
		}
	}

	if c.Strategy != nil {
		switch *c.Strategy {
		case StrategyNewton, StrategyBinary:
		default:
			return invalid("unknown strategy %q (want %s or %s)", *c.Strategy, StrategyNewton, StrategyBinary)
		}
	}

	if c.Oracle != nil {
		switch *c.Oracle {
		case OracleIdeal, OracleNgspice:
		default:
			return invalid("unknown oracle %q (want %s or %s)", *c.Oracle, OracleIdeal, OracleNgspice)
		}
	}

	for name, v := range map[string]*int{
		"newton_iterations":       c.NewtonIterations,
		"binary_iterations":       c.BinaryIterations,
		"montecarlo_runs":         c.MonteCarloRuns,
		"sweep_points_per_decade": c.SweepPointsPerDec,
	} {
		if v != nil && *v <= 0 {
			return invalid("%s must be positive, got %d", name, *v)
		}
	}

	if c.MonteCarloTolerancePct != nil && *c.MonteCarloTolerancePct < 0 {
		return invalid("montecarlo_tolerance_pct must be non-negative, got %f", *c.MonteCarloTolerancePct)
	}

	if c.SimulationTimeout != nil && *c.SimulationTimeout != "" {
		if _, err := time.ParseDuration(*c.SimulationTimeout); err != nil {
			return invalid("invalid simulation_timeout '%s': %v", *c.SimulationTimeout, err)
		}
	}

	if err := c.GetBounds().Validate(); err != nil {
		return err
	}
	if err := c.GetSweep().Validate(); err != nil {
		return err
	}

	jmin, jmax := c.GetJitterMin(), c.GetJitterMax()
	if jmin < 0 || jmax < jmin || jmax >= 1 {
		return invalid("jitter range [%g, %g] is invalid", jmin, jmax)
	}

	p := c.GetNewtonParams()
	if p.Damping <= 0 || p.Damping > 1 {
		return invalid("damping must be in (0, 1], got %f", p.Damping)
	}
	if p.ProbeFraction <= 0 || p.ProbeFraction >= 1 {
		return invalid("probe_fraction must be in (0, 1), got %f", p.ProbeFraction)
	}
	if p.FineStep <= 0 || p.FineStep >= 1 {
		return invalid("fine_step must be in (0, 1), got %f", p.FineStep)
	}

	return nil
}

// GetTarget returns the target string or the default.
func (c *TuningConfig) GetTarget() string {
	if c.Target == nil || *c.Target == "" {
		return "5G"
	}
	return *c.Target
}

// GetTargetHz parses the target. An unparsable target is a configuration error.
func (c *TuningConfig) GetTargetHz() (float64, error) {
	v, err := units.Parse(c.GetTarget())
	if err != nil {
		return 0, invalid("target: %v", err)
	}
	return v, nil
}

// GetRelativeTolerance returns the relative_tolerance value or the default.
func (c *TuningConfig) GetRelativeTolerance() float64 {
	if c.RelativeTolerance == nil {
		return 0.005
	}
	return *c.RelativeTolerance
}

// GetStrategy returns the strategy name or the default.
func (c *TuningConfig) GetStrategy() string {
	if c.Strategy == nil || *c.Strategy == "" {
		return StrategyNewton
	}
	return *c.Strategy
}

// GetNewtonIterations returns the newton_iterations value or the default.
func (c *TuningConfig) GetNewtonIterations() int {
	if c.NewtonIterations == nil {
		return 200
	}
	return *c.NewtonIterations
}

// GetBinaryIterations returns the binary_iterations value or the default.
func (c *TuningConfig) GetBinaryIterations() int {
	if c.BinaryIterations == nil {
		return 40
	}
	return *c.BinaryIterations
}

// GetIterations returns the budget for the named strategy.
func (c *TuningConfig) GetIterations(strategy string) int {
	if strategy == StrategyBinary {
		return c.GetBinaryIterations()
	}
	return c.GetNewtonIterations()
}

// GetSeed returns the seed value or 0.
func (c *TuningConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetMinResistance returns the min_resistance_ohms value or the default.
func (c *TuningConfig) GetMinResistance() float64 {
	if c.MinResistance == nil {
		return tuner.DefaultBounds().MinResistance
	}
	return *c.MinResistance
}

// GetMaxResistance returns the max_resistance_ohms value or the default.
func (c *TuningConfig) GetMaxResistance() float64 {
	if c.MaxResistance == nil {
		return tuner.DefaultBounds().MaxResistance
	}
	return *c.MaxResistance
}

// GetMinCapacitance returns the min_capacitance_farads value or the default.
func (c *TuningConfig) GetMinCapacitance() float64 {
	if c.MinCapacitance == nil {
		return tuner.DefaultBounds().MinCapacitance
	}
	return *c.MinCapacitance
}

// GetMaxCapacitance returns the max_capacitance_farads value or the default.
func (c *TuningConfig) GetMaxCapacitance() float64 {
	if c.MaxCapacitance == nil {
		return tuner.DefaultBounds().MaxCapacitance
	}
	return *c.MaxCapacitance
}

// GetBounds assembles the component bounds.
func (c *TuningConfig) GetBounds() tuner.Bounds {
	return tuner.Bounds{
		MinResistance:  c.GetMinResistance(),
		MaxResistance:  c.GetMaxResistance(),
		MinCapacitance: c.GetMinCapacitance(),
		MaxCapacitance: c.GetMaxCapacitance(),
	}
}

// GetStartResistance returns the start_resistance_ohms value or the default.
func (c *TuningConfig) GetStartResistance() float64 {
	if c.StartResistance == nil {
		return tuner.DefaultNewtonParams().StartResistance
	}
	return *c.StartResistance
}

// GetFineTuneFraction returns the fine_tune_fraction value or the default.
func (c *TuningConfig) GetFineTuneFraction() float64 {
	if c.FineTuneFraction == nil {
		return tuner.DefaultNewtonParams().FineTuneFraction
	}
	return *c.FineTuneFraction
}

// GetProbeFraction returns the probe_fraction value or the default.
func (c *TuningConfig) GetProbeFraction() float64 {
	if c.ProbeFraction == nil {
		return tuner.DefaultNewtonParams().ProbeFraction
	}
	return *c.ProbeFraction
}

// GetDamping returns the damping value or the default.
func (c *TuningConfig) GetDamping() float64 {
	if c.Damping == nil {
		return tuner.DefaultNewtonParams().Damping
	}
	return *c.Damping
}

// GetSlopeFloor returns the slope_floor value or the default.
func (c *TuningConfig) GetSlopeFloor() float64 {
	if c.SlopeFloor == nil {
		return tuner.DefaultNewtonParams().SlopeFloor
	}
	return *c.SlopeFloor
}

// GetFineStep returns the fine_step value or the default.
func (c *TuningConfig) GetFineStep() float64 {
	if c.FineStep == nil {
		return tuner.DefaultNewtonParams().FineStep
	}
	return *c.FineStep
}

// GetHighResetOhms returns the high_reset_ohms value or the default.
func (c *TuningConfig) GetHighResetOhms() float64 {
	if c.HighResetOhms == nil {
		return tuner.DefaultNewtonParams().HighResetOhms
	}
	return *c.HighResetOhms
}

// GetLowResetOhms returns the low_reset_ohms value or the default.
func (c *TuningConfig) GetLowResetOhms() float64 {
	if c.LowResetOhms == nil {
		return tuner.DefaultNewtonParams().LowResetOhms
	}
	return *c.LowResetOhms
}

// GetNewtonParams assembles the Newton constants. The kick and growth factors
// are fixed.
func (c *TuningConfig) GetNewtonParams() tuner.NewtonParams {
	p := tuner.DefaultNewtonParams()
	p.StartResistance = c.GetStartResistance()
	p.FineTuneFraction = c.GetFineTuneFraction()
	p.ProbeFraction = c.GetProbeFraction()
	p.Damping = c.GetDamping()
	p.SlopeFloor = c.GetSlopeFloor()
	p.FineStep = c.GetFineStep()
	p.HighResetOhms = c.GetHighResetOhms()
	p.LowResetOhms = c.GetLowResetOhms()
	return p
}

// GetNotFoundHz returns the not_found_hz value or the default.
func (c *TuningConfig) GetNotFoundHz() float64 {
	if c.NotFoundHz == nil {
		return tuner.DefaultNotFoundHz
	}
	return *c.NotFoundHz
}

// GetJitterMin returns the jitter_min value or the default.
func (c *TuningConfig) GetJitterMin() float64 {
	if c.JitterMin == nil {
		return 0.10
	}
	return *c.JitterMin
}

// GetJitterMax returns the jitter_max value or the default.
func (c *TuningConfig) GetJitterMax() float64 {
	if c.JitterMax == nil {
		return 0.20
	}
	return *c.JitterMax
}

// GetMonteCarloTolerancePct returns the montecarlo_tolerance_pct value or the default.
func (c *TuningConfig) GetMonteCarloTolerancePct() float64 {
	if c.MonteCarloTolerancePct == nil {
		return 5.0
	}
	return *c.MonteCarloTolerancePct
}

// GetMonteCarloRuns returns the montecarlo_runs value or the default.
func (c *TuningConfig) GetMonteCarloRuns() int {
	if c.MonteCarloRuns == nil {
		return 200
	}
	return *c.MonteCarloRuns
}

// GetOracle returns the oracle name or the default.
func (c *TuningConfig) GetOracle() string {
	if c.Oracle == nil || *c.Oracle == "" {
		return OracleIdeal
	}
	return *c.Oracle
}

// GetNgspicePath returns the ngspice_path value or the default.
func (c *TuningConfig) GetNgspicePath() string {
	if c.NgspicePath == nil || *c.NgspicePath == "" {
		return "ngspice"
	}
	return *c.NgspicePath
}

// GetWorkDir returns the work_dir value or the default.
func (c *TuningConfig) GetWorkDir() string {
	if c.WorkDir == nil || *c.WorkDir == "" {
		return "rctune-work"
	}
	return *c.WorkDir
}

// GetSimulationTimeout parses and returns the SimulationTimeout as a time.Duration.
func (c *TuningConfig) GetSimulationTimeout() time.Duration {
	if c.SimulationTimeout == nil || *c.SimulationTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SimulationTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetSweep assembles the AC sweep window.
func (c *TuningConfig) GetSweep() tuner.Sweep {
	s := tuner.DefaultSweep()
	if c.SweepPointsPerDec != nil {
		s.PointsPerDecade = *c.SweepPointsPerDec
	}
	if c.SweepStartHz != nil {
		s.StartHz = *c.SweepStartHz
	}
	if c.SweepStopHz != nil {
		s.StopHz = *c.SweepStopHz
	}
	return s
}

// GetInterpolateCrossing returns the interpolate_crossing value or the default.
func (c *TuningConfig) GetInterpolateCrossing() bool {
	if c.InterpolateCrossing == nil {
		return false
	}
	return *c.InterpolateCrossing
}

// RunOptions builds the run loop options for the named strategy.
func (c *TuningConfig) RunOptions(strategy string) (tuner.Options, error) {
	target, err := c.GetTargetHz()
	if err != nil {
		return tuner.Options{}, err
	}
	opts := tuner.Options{
		TargetHz:      target,
		RelTolerance:  c.GetRelativeTolerance(),
		MaxIterations: c.GetIterations(strategy),
		Bounds:        c.GetBounds(),
		NotFoundHz:    c.GetNotFoundHz(),
		JitterMin:     c.GetJitterMin(),
		JitterMax:     c.GetJitterMax(),
	}
	return opts, opts.Validate()
}
