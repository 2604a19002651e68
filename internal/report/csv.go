package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/rctune/internal/fsutil"
	"github.com/banshee-data/rctune/internal/tuner"
)

var csvHeader = []string{
	"run_id", "strategy", "iteration", "phase",
	"resistance_ohms", "capacitance_farads", "frequency_hz", "found",
	"abs_error_hz", "best", "jittered",
}

// CSVReporter streams one row per iteration, flushing after each so a
// partially finished run is still readable.
type CSVReporter struct {
	w      *csv.Writer
	closer io.Closer
	header bool
	err    error
}

// NewCSVReporter writes rows to w.
func NewCSVReporter(w io.Writer) *CSVReporter {
	c := &CSVReporter{w: csv.NewWriter(w)}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

// CreateCSV creates path on fsys and returns a reporter writing to it.
func CreateCSV(fsys fsutil.FileSystem, path string) (*CSVReporter, error) {
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv: %w", err)
	}
	return NewCSVReporter(f), nil
}

// Err returns the first write error.
func (c *CSVReporter) Err() error { return c.err }

func (c *CSVReporter) write(row []string) {
	if c.err != nil {
		return
	}
	if err := c.w.Write(row); err != nil {
		c.err = err
		return
	}
	c.w.Flush()
	c.err = c.w.Error()
}

func (c *CSVReporter) Report(ev tuner.Event) {
	if !c.header {
		c.write(csvHeader)
		c.header = true
	}
	c.write([]string{
		ev.RunID,
		ev.Strategy,
		strconv.Itoa(ev.Iteration),
		ev.Phase,
		formatFloat(ev.Candidate.Resistance),
		formatFloat(ev.Candidate.Capacitance),
		formatFloat(ev.FrequencyHz),
		strconv.FormatBool(ev.Found),
		formatFloat(math.Abs(ev.FrequencyHz - ev.TargetHz)),
		strconv.FormatBool(ev.Best),
		strconv.FormatBool(ev.Jittered),
	})
}

// Finish flushes and closes the underlying writer when it is closable.
func (c *CSVReporter) Finish(*tuner.Result) {
	c.w.Flush()
	if c.err == nil {
		c.err = c.w.Error()
	}
	if c.closer != nil {
		if err := c.closer.Close(); err != nil && c.err == nil {
			c.err = err
		}
		c.closer = nil
	}
	if c.err != nil {
		logf("csv: %v", c.err)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
