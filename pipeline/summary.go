package pipeline

import (
	"fmt"
	"io"
	"time"

	relerrors "github.com/input-output-hk/forge-release/errors"
)

// StageResult is the outcome of one stage within an invocation.
type StageResult struct {
	Stage    StageKind
	Err      error
	Duration time.Duration
}

// Summary collects the stage results of one RunStage call in execution order.
type Summary struct {
	Results []StageResult
}

func (s *Summary) record(kind StageKind, start time.Time, err error) {
	s.Results = append(s.Results, StageResult{Stage: kind, Err: err, Duration: time.Since(start)})
}

// Failures returns the failed stages.
func (s *Summary) Failures() []StageResult {
	var out []StageResult
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Ran returns the stages that ran, in order.
func (s *Summary) Ran() []StageKind {
	out := make([]StageKind, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, r.Stage)
	}
	return out
}

// Err aggregates the failures, or returns nil.
func (s *Summary) Err() error {
	m := &relerrors.Multi{}
	for _, r := range s.Failures() {
		m.Add(r.Err)
	}
	return m.ErrorOrNil()
}

// WriteReport prints one line per failed stage followed by its error.
// It writes nothing when every stage succeeded.
func (s *Summary) WriteReport(w io.Writer) {
	failures := s.Failures()
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "%d of %d stages failed:\n", len(failures), len(s.Results))
	for _, f := range failures {
		fmt.Fprintf(w, "%s: %v\n", f.Stage, f.Err)
	}
}
