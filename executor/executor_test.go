package executor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/forge-release/executor"
)

func run(t *testing.T, program string, args []string, opts ...executor.Option) (*executor.Result, error) {
	t.Helper()
	return executor.NewRunner().Run(context.Background(), program, args, opts...)
}

func TestRunCapturesOutput(t *testing.T) {
	result, err := run(t, "sh", []string{"-c", "echo out; echo err >&2"})
	require.NoError(t, err)

	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
}

func TestBaseAndCallEnv(t *testing.T) {
	runner := executor.NewRunner(executor.WithEnvVar("BASE_VAR", "base"))

	result, err := runner.Run(context.Background(), "sh", []string{"-c", "echo $BASE_VAR $EXTRA_VAR"},
		executor.WithEnvVar("EXTRA_VAR", "extra"))
	require.NoError(t, err)
	assert.Equal(t, "base extra", strings.TrimSpace(result.Stdout))

	// Per-call env must not leak into later calls.
	result, err = runner.Run(context.Background(), "sh", []string{"-c", "echo ${EXTRA_VAR:-unset}"})
	require.NoError(t, err)
	assert.Equal(t, "unset", strings.TrimSpace(result.Stdout))
}

func TestEnvOverridesProcessEnv(t *testing.T) {
	t.Setenv("GOOS", "plan9")

	result, err := run(t, "sh", []string{"-c", "echo $GOOS"}, executor.WithEnvVar("GOOS", "linux"))
	require.NoError(t, err)
	assert.Equal(t, "linux", strings.TrimSpace(result.Stdout))
}

func TestNonZeroExit(t *testing.T) {
	result, err := run(t, "sh", []string{"-c", "echo broken >&2; exit 3"})
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "broken")

	var exitErr *executor.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.True(t, strings.HasPrefix(err.Error(), "sh -c"))

	var osErr *exec.ExitError
	assert.True(t, errors.As(err, &osErr))
}

func TestMissingProgram(t *testing.T) {
	result, err := run(t, "definitely-not-a-real-program-xyz", nil)
	require.Error(t, err)
	assert.Equal(t, -1, result.ExitCode)
}

func TestStdin(t *testing.T) {
	input := "hello from stdin"
	result, err := run(t, "cat", nil, executor.WithStdin(strings.NewReader(input)))
	require.NoError(t, err)
	assert.Equal(t, input, result.Stdout)
}

func TestWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	result, err := run(t, "pwd", nil, executor.WithWorkingDir(dir))
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
}

func TestEcho(t *testing.T) {
	var out, errOut bytes.Buffer
	result, err := run(t, "sh", []string{"-c", "echo to-out; echo to-err >&2"},
		executor.WithEcho(&out, &errOut))
	require.NoError(t, err)

	assert.Equal(t, "to-out\n", out.String())
	assert.Equal(t, "to-err\n", errOut.String())
	assert.Equal(t, "to-out\n", result.Stdout, "echoed output is still captured")
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := executor.NewRunner().Run(ctx, "sleep", []string{"1"})
	require.Error(t, err)
}

func TestLoggerReceivesCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := run(t, "echo", []string{"logged"}, executor.WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "echo logged")
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "go build -o out .", executor.CommandLine("go", []string{"build", "-o", "out", "."}))
	assert.Equal(t, "gofmt", executor.CommandLine("gofmt", nil))
}

func TestNewOptions(t *testing.T) {
	o := executor.NewOptions(executor.WithWorkingDir("/src"), executor.WithEnvVar("A", "1"))
	assert.Equal(t, "/src", o.WorkingDir)
	assert.Equal(t, map[string]string{"A": "1"}, o.Env)
}
