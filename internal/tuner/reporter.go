package tuner

// Event is sent to the progress reporter after every iteration.
type Event struct {
	RunID       string
	Strategy    string
	Iteration   int
	Phase       string
	Candidate   Candidate
	FrequencyHz float64
	Found       bool
	TargetHz    float64
	Best        bool
	Jittered    bool
	Response    []ResponsePoint
}

// Reporter observes a run. It has no way to influence the search.
type Reporter interface {
	Report(ev Event)
	Finish(res *Result)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Report(Event)   {}
func (NopReporter) Finish(*Result) {}

// MultiReporter fans out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(ev Event) {
	for _, r := range m {
		r.Report(ev)
	}
}

func (m MultiReporter) Finish(res *Result) {
	for _, r := range m {
		r.Finish(res)
	}
}
