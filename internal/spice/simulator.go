package spice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/rctune/internal/fsutil"
	"github.com/banshee-data/rctune/internal/monitoring"
	"github.com/banshee-data/rctune/internal/tuner"
)

var logf = monitoring.Tagged("spice")

const (
	netlistName = "ac_analysis.cir"
	outputName  = "output.txt"

	// DefaultTimeout bounds a single ngspice invocation.
	DefaultTimeout = 30 * time.Second
)

// ErrTimeout is returned when ngspice does not finish within the timeout.
var ErrTimeout = errors.New("ngspice timed out")

// ExecFunc runs a command and returns its combined output.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Simulator is a tuner.Oracle backed by the ngspice binary. It is not safe
// for concurrent use: every call reuses the same files in WorkDir.
type Simulator struct {
	Binary      string
	WorkDir     string
	Timeout     time.Duration
	Sweep       tuner.Sweep
	Interpolate bool

	FS   fsutil.FileSystem
	Exec ExecFunc

	runs int
}

// NewSimulator returns a simulator with the default sweep and timeout.
func NewSimulator(binary, workDir string) *Simulator {
	return &Simulator{
		Binary:  binary,
		WorkDir: workDir,
		Timeout: DefaultTimeout,
		Sweep:   tuner.DefaultSweep(),
		FS:      fsutil.OSFileSystem{},
		Exec:    execCommand,
	}
}

// Runs returns how many simulations have been started.
func (s *Simulator) Runs() int { return s.runs }

// Measure implements tuner.Oracle.
func (s *Simulator) Measure(ctx context.Context, c tuner.Candidate) (tuner.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return tuner.NoCrossing(), err
	}
	fsys := s.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	run := s.Exec
	if run == nil {
		run = execCommand
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if err := fsys.MkdirAll(s.WorkDir, 0o755); err != nil {
		return tuner.NoCrossing(), fmt.Errorf("creating work dir: %w", err)
	}
	netlistPath := filepath.Join(s.WorkDir, netlistName)
	outputPath := filepath.Join(s.WorkDir, outputName)

	// A failed run must not leave the previous candidate's output behind.
	if err := fsys.Remove(outputPath); err != nil {
		return tuner.NoCrossing(), fmt.Errorf("clearing stale output: %w", err)
	}
	netlist := Netlist{Candidate: c, Sweep: s.Sweep, OutputPath: outputPath}
	if err := fsys.WriteFile(netlistPath, []byte(netlist.Render()), 0o644); err != nil {
		return tuner.NoCrossing(), fmt.Errorf("writing netlist: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.runs++
	out, err := run(runCtx, s.Binary, "-b", netlistPath)
	if err != nil {
		if ctx.Err() != nil {
			return tuner.NoCrossing(), ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return tuner.NoCrossing(), fmt.Errorf("%w after %s for %s", ErrTimeout, timeout, c)
		}
		return tuner.NoCrossing(), fmt.Errorf("running %s: %w: %s", s.Binary, err, tail(out))
	}

	data, err := fsys.ReadFile(outputPath)
	if err != nil {
		return tuner.NoCrossing(), fmt.Errorf("reading %s: %w", outputPath, err)
	}
	points, err := ParseWrdata(bytes.NewReader(data))
	if err != nil {
		return tuner.NoCrossing(), err
	}

	m := Cutoff(points, s.Interpolate)
	if !m.Found {
		logf("no cutoff crossing in %d rows for %s", len(points), c)
	}
	return m, nil
}

// tail keeps the last line of simulator output for error messages.
func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[len(s)-200:]
	}
	return s
}
