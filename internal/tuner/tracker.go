package tuner

import (
	"math"
	"strconv"
)

// BestFit is the lowest-error candidate observed during a run.
type BestFit struct {
	Candidate   Candidate `json:"candidate"`
	FrequencyHz float64   `json:"frequency_hz"`
	AbsError    float64   `json:"abs_error_hz"`
	Iteration   int       `json:"iteration"`
}

// RelativeError returns AbsError as a fraction of targetHz.
func (b BestFit) RelativeError(targetHz float64) float64 {
	if targetHz == 0 {
		return math.Inf(1)
	}
	return b.AbsError / targetHz
}

// Tracker keeps the best-fit record of a run. Its error only ever decreases.
type Tracker struct {
	best  BestFit
	valid bool
}

// NewTracker returns an empty tracker whose error starts at +Inf.
func NewTracker() *Tracker {
	return &Tracker{best: BestFit{AbsError: math.Inf(1), Iteration: -1}}
}

// Observe records a measurement and reports whether it replaced the best
// record. Only a strictly smaller absolute error counts as an improvement.
func (t *Tracker) Observe(iter int, c Candidate, freq, targetHz float64) bool {
	absErr := math.Abs(freq - targetHz)
	if math.IsNaN(absErr) || absErr >= t.best.AbsError {
		return false
	}
	t.best = BestFit{Candidate: c, FrequencyHz: freq, AbsError: absErr, Iteration: iter}
	t.valid = true
	return true
}

// Best returns the current record and whether anything has been observed.
func (t *Tracker) Best() (BestFit, bool) {
	return t.best, t.valid
}

// History is the visited-state set used to spot search cycles. States are
// rounded to 0.01 Ω and 0.01 fF before comparison.
type History struct {
	seen map[string]struct{}
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{seen: make(map[string]struct{})}
}

func stateKey(c Candidate) string {
	r := math.Round(c.Resistance*100) / 100
	f := math.Round(c.Capacitance*1e15*100) / 100
	return strconv.FormatFloat(r, 'f', 2, 64) + "|" + strconv.FormatFloat(f, 'f', 2, 64)
}

// Visit records c and reports whether its rounded state was already present.
// A repeated state is not re-inserted.
func (h *History) Visit(c Candidate) bool {
	k := stateKey(c)
	if _, ok := h.seen[k]; ok {
		return true
	}
	h.seen[k] = struct{}{}
	return false
}

// Len returns the number of distinct states.
func (h *History) Len() int { return len(h.seen) }

// Clear forgets every state.
func (h *History) Clear() {
	clear(h.seen)
}
