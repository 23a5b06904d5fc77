package build

import (
	"fmt"
	"sort"

	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/matrix"
)

// Failure is a task that did not produce an artifact.
type Failure struct {
	Task matrix.Task
	Err  error
}

// Report is the outcome of Builder.Run. Entries keep task order.
type Report struct {
	Artifacts []Artifact
	Failures  []Failure

	// Skipped lists tasks never started because of fail-fast or cancellation.
	Skipped []matrix.Task

	// Cancelled is the caller's context error when it stopped the run.
	Cancelled error
}

// FailedTargets returns the sorted names of targets with at least one failed task.
func (r *Report) FailedTargets() []string {
	seen := make(map[string]bool)
	for _, f := range r.Failures {
		seen[f.Task.Target] = true
	}
	return sortedKeys(seen)
}

// BuiltTargets returns the sorted names of targets with no failed or skipped task.
func (r *Report) BuiltTargets() []string {
	incomplete := make(map[string]bool)
	for _, f := range r.Failures {
		incomplete[f.Task.Target] = true
	}
	for _, t := range r.Skipped {
		incomplete[t.Target] = true
	}
	built := make(map[string]bool)
	for _, a := range r.Artifacts {
		if !incomplete[a.Task.Target] {
			built[a.Task.Target] = true
		}
	}
	return sortedKeys(built)
}

// Err aggregates task failures into one BUILD_FAILED error, or returns nil.
func (r *Report) Err() error {
	m := &relerrors.Multi{Code: relerrors.CodeBuildFailed}
	for _, f := range r.Failures {
		m.Add(f.Err)
	}
	if r.Cancelled != nil {
		m.Add(relerrors.Wrap(r.Cancelled, relerrors.CodeBuildFailed,
			fmt.Sprintf("%d tasks not started", len(r.Skipped))))
	}
	return m.ErrorOrNil()
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
