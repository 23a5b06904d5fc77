// Package executor runs the external programs a release needs: the Go
// toolchain, formatters, linters and object-store CLIs. Output is always
// captured; callers that want it on the console ask for it to be echoed.
package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Result holds the captured output and exit status of one invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a program with arguments. Stages depend on this interface so
// tests can substitute a fake toolchain.
type Runner interface {
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures one invocation.
type Options struct {
	// WorkingDir is the directory the command runs in.
	WorkingDir string

	// Env is layered over the current process environment.
	Env map[string]string

	// Stdin is connected to the command's standard input.
	Stdin io.Reader

	// EchoStdout and EchoStderr receive a copy of the output as it is produced.
	EchoStdout io.Writer
	EchoStderr io.Writer

	// Logger receives one debug line per invocation.
	Logger *slog.Logger
}

// Option modifies Options.
type Option func(*Options)

// NewOptions applies opts to empty Options.
func NewOptions(opts ...Option) *Options {
	o := &Options{Env: make(map[string]string)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CommandLine renders program and args the way logs and errors show them.
func CommandLine(program string, args []string) string {
	return strings.TrimSpace(program + " " + strings.Join(args, " "))
}

// ExitError reports a command that could not start or exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *ExitError) Error() string {
	return e.Command + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// CommandRunner is the os/exec backed Runner.
type CommandRunner struct {
	base []Option
}

// NewRunner creates a CommandRunner. The given options apply to every call
// before the per-call options.
func NewRunner(opts ...Option) *CommandRunner {
	return &CommandRunner{base: opts}
}

// Run implements Runner. A non-nil Result is returned whenever the process
// was attempted, so callers can inspect stderr on failure.
func (r *CommandRunner) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	o := NewOptions(append(append([]Option(nil), r.base...), opts...)...)
	line := CommandLine(program, args)
	if o.Logger != nil {
		o.Logger.DebugContext(ctx, "exec", "cmd", line, "dir", o.WorkingDir)
	}

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = o.WorkingDir
	cmd.Stdin = o.Stdin
	if len(o.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), o.Env)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, o.EchoStdout)
	cmd.Stderr = tee(&stderr, o.EchoStderr)

	err := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = -1
	}
	return result, &ExitError{Command: line, ExitCode: result.ExitCode, Err: err}
}

// mergeEnv overrides entries of base with extra. Keys of extra that are not
// in base are appended in sorted order.
func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := extra[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

func tee(buf *bytes.Buffer, echo io.Writer) io.Writer {
	if echo == nil {
		return buf
	}
	return io.MultiWriter(buf, echo)
}

// WithWorkingDir sets the working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) {
		o.WorkingDir = dir
	}
}

// WithEnv adds environment variables.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithEnvVar adds a single environment variable.
func WithEnvVar(key, value string) Option {
	return WithEnv(map[string]string{key: value})
}

// WithStdin connects r to the command's stdin.
func WithStdin(r io.Reader) Option {
	return func(o *Options) {
		o.Stdin = r
	}
}

// WithEcho copies the command's output to stdout and stderr while it runs.
// Nil writers leave that stream captured only.
func WithEcho(stdout, stderr io.Writer) Option {
	return func(o *Options) {
		o.EchoStdout = stdout
		o.EchoStderr = stderr
	}
}

// WithLogger sets the logger used for per-invocation debug lines.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
