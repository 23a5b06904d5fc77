package build_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/forge-release/build"
	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/executor"
	"github.com/input-output-hk/forge-release/internal/testutil"
	"github.com/input-output-hk/forge-release/matrix"
	"github.com/input-output-hk/forge-release/metadata"
)

var testMeta = metadata.BuildMetadata{
	Version:   "1.2.0-3-gabc1234",
	Commit:    "abc1234def5678",
	BuildDate: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

// compiler fakes `go build` by writing the -o file.
func compiler(fail map[string]bool) *testutil.FakeRunner {
	return &testutil.FakeRunner{
		RunFunc: func(_ context.Context, call testutil.Call) (*executor.Result, error) {
			out := call.Args[2]
			if fail[filepath.Base(out)] {
				return &executor.Result{ExitCode: 2, Stderr: "undefined: foo\n"}, errors.New("exit status 2")
			}
			if err := os.WriteFile(out, []byte("binary:"+filepath.Base(out)), 0o755); err != nil {
				return &executor.Result{ExitCode: -1}, err
			}
			return &executor.Result{}, nil
		},
	}
}

func TestArgs(t *testing.T) {
	b := build.New(build.WithDistDir("dist"), build.WithVersionPackage("example.com/steward/version"))

	tests := []struct {
		name string
		task matrix.Task
		want []string
	}{
		{
			name: "versioned linux",
			task: matrix.Task{Target: "steward", OS: "linux", Arch: "amd64", Entry: "./cmd/steward", Versioned: true},
			want: []string{
				"build", "-o", filepath.Join("dist", "steward", "steward-linux-amd64"),
				"-ldflags",
				"-X example.com/steward/version.Version=1.2.0-3-gabc1234 " +
					"-X example.com/steward/version.CommitHash=abc1234def5678 " +
					"-X example.com/steward/version.BuildDate=2024-05-01T12:00:00Z",
				"./cmd/steward",
			},
		},
		{
			name: "unversioned alpine",
			task: matrix.Task{Target: "steward", OS: "alpine", Arch: "amd64"},
			want: []string{"build", "-o", filepath.Join("dist", "steward", "steward-alpine-amd64"), "."},
		},
		{
			name: "windows gets exe suffix",
			task: matrix.Task{Target: "cli", OS: "windows", Arch: "386", Entry: "./cmd/cli"},
			want: []string{"build", "-o", filepath.Join("dist", "cli", "cli-windows-386.exe"), "./cmd/cli"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Args(tt.task, testMeta))
		})
	}
}

func TestArgsDefaultVersionPackage(t *testing.T) {
	for _, b := range []*build.Builder{
		build.New(build.WithDistDir("dist")),
		build.New(build.WithDistDir("dist"), build.WithVersionPackage("")),
	} {
		args := b.Args(matrix.Task{Target: "x", OS: "linux", Arch: "arm64", Versioned: true}, testMeta)
		require.Contains(t, args, "-ldflags")
		assert.Equal(t, []string{
			"build", "-o", filepath.Join("dist", "x", "x-linux-arm64"),
			"-ldflags",
			"-X main.Version=1.2.0-3-gabc1234 " +
				"-X main.CommitHash=abc1234def5678 " +
				"-X main.BuildDate=2024-05-01T12:00:00Z",
			".",
		}, args)
	}
}

func TestGOOS(t *testing.T) {
	assert.Equal(t, "linux", build.GOOS("alpine"))
	assert.Equal(t, "darwin", build.GOOS("darwin"))
}

func TestExecute(t *testing.T) {
	dist := t.TempDir()
	runner := compiler(nil)
	b := build.New(build.WithDistDir(dist), build.WithRepoRoot("/src"), build.WithRunner(runner))

	task := matrix.Task{Target: "steward", OS: "alpine", Arch: "amd64"}
	art, err := b.Execute(context.Background(), task, testMeta)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dist, "steward", "steward-alpine-amd64"), art.Path)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "go", calls[0].Program)
	assert.Equal(t, "/src", calls[0].Options.WorkingDir)
	assert.Equal(t, map[string]string{"GOOS": "linux", "GOARCH": "amd64", "CGO_ENABLED": "0"}, calls[0].Options.Env)

	sum := md5.Sum([]byte("binary:steward-alpine-amd64"))
	assert.Equal(t, hex.EncodeToString(sum[:]), art.MD5)

	sidecar, err := os.ReadFile(art.Path + ".md5")
	require.NoError(t, err)
	assert.Equal(t, art.MD5+"  steward-alpine-amd64\n", string(sidecar))
	assert.FileExists(t, art.Path+".sha1")
	assert.Len(t, art.SHA1, 40)
}

func TestExecuteFailure(t *testing.T) {
	b := build.New(build.WithDistDir(t.TempDir()), build.WithRunner(compiler(map[string]bool{"steward-linux-amd64": true})))

	_, err := b.Execute(context.Background(), matrix.Task{Target: "steward", OS: "linux", Arch: "amd64"}, testMeta)
	require.Error(t, err)
	assert.True(t, relerrors.Is(err, relerrors.CodeBuildFailed))

	var e *relerrors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "steward", e.Context["target"])
	assert.Equal(t, "linux", e.Context["os"])
	assert.Equal(t, "amd64", e.Context["arch"])
	assert.Equal(t, 2, e.Context["exit_code"])
	assert.Equal(t, "undefined: foo", e.Context["stderr"])
}

func tasks() []matrix.Task {
	return []matrix.Task{
		{Target: "a", OS: "linux", Arch: "amd64"},
		{Target: "b", OS: "linux", Arch: "amd64"},
		{Target: "c", OS: "linux", Arch: "amd64"},
		{Target: "c", OS: "linux", Arch: "arm64"},
	}
}

func TestRunBestEffort(t *testing.T) {
	runner := compiler(map[string]bool{"b-linux-amd64": true})
	b := build.New(build.WithDistDir(t.TempDir()), build.WithRunner(runner),
		build.WithWorkers(2), build.WithPolicy(build.PolicyBestEffort))

	report := b.Run(context.Background(), tasks(), testMeta)

	assert.Len(t, runner.Calls(), 4)
	assert.Len(t, report.Artifacts, 3)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, []string{"b"}, report.FailedTargets())
	assert.Equal(t, []string{"a", "c"}, report.BuiltTargets())

	err := report.Err()
	require.Error(t, err)
	assert.True(t, relerrors.Is(err, relerrors.CodeBuildFailed))
}

func TestRunFailFast(t *testing.T) {
	runner := compiler(map[string]bool{"a-linux-amd64": true})
	b := build.New(build.WithDistDir(t.TempDir()), build.WithRunner(runner),
		build.WithWorkers(1), build.WithPolicy(build.PolicyFailFast))

	report := b.Run(context.Background(), tasks(), testMeta)

	assert.Len(t, runner.Calls(), 1, "no task starts after the first failure")
	assert.Len(t, report.Failures, 1)
	assert.Len(t, report.Skipped, 3)
	assert.Empty(t, report.BuiltTargets())
	assert.Nil(t, report.Cancelled)
}

func TestRunAllSucceed(t *testing.T) {
	b := build.New(build.WithDistDir(t.TempDir()), build.WithRunner(compiler(nil)), build.WithWorkers(3))

	report := b.Run(context.Background(), tasks(), testMeta)
	require.NoError(t, report.Err())
	require.Len(t, report.Artifacts, 4)
	for i, art := range report.Artifacts {
		assert.Equal(t, tasks()[i], art.Task, "artifacts keep task order")
	}
}

func TestRunCancelled(t *testing.T) {
	runner := compiler(nil)
	b := build.New(build.WithDistDir(t.TempDir()), build.WithRunner(runner))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := b.Run(ctx, tasks(), testMeta)
	assert.Empty(t, runner.Calls())
	assert.Len(t, report.Skipped, 4)
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

func TestParsePolicy(t *testing.T) {
	p, err := build.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, build.PolicyBestEffort, p)

	p, err = build.ParsePolicy("Fail-Fast")
	require.NoError(t, err)
	assert.True(t, p.FailFast())

	_, err = build.ParsePolicy("yolo")
	assert.True(t, relerrors.Is(err, relerrors.CodeInvalidConfig))
}
