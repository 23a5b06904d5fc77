// Package testutil provides fakes shared by the pipeline's package tests.
// This package is internal and should only be used for testing.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/input-output-hk/forge-release/executor"
)

// Call records one invocation of a FakeRunner.
type Call struct {
	Program string
	Args    []string
	Options executor.Options
}

// Line renders the call as a single command line.
func (c Call) Line() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// FakeRunner implements executor.Runner without spawning processes.
// RunFunc decides the outcome of each call; when nil every call succeeds.
type FakeRunner struct {
	RunFunc func(ctx context.Context, call Call) (*executor.Result, error)

	mu    sync.Mutex
	calls []Call
}

// Run records the call and delegates to RunFunc.
func (f *FakeRunner) Run(
	ctx context.Context,
	program string,
	args []string,
	opts ...executor.Option,
) (*executor.Result, error) {
	options := executor.NewOptions(opts...)
	call := Call{Program: program, Args: append([]string(nil), args...), Options: *options}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.RunFunc != nil {
		return f.RunFunc(ctx, call)
	}
	return &executor.Result{}, nil
}

// Calls returns a snapshot of the recorded calls.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns the recorded calls rendered as command lines.
func (f *FakeRunner) Lines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line()
	}
	return lines
}

var _ executor.Runner = (*FakeRunner)(nil)
