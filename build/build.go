// Package build compiles matrix tasks with the Go toolchain and writes the
// resulting binaries, with checksum sidecars, under the dist directory.
package build

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sync/errgroup"

	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/executor"
	"github.com/input-output-hk/forge-release/matrix"
	"github.com/input-output-hk/forge-release/metadata"
)

// Artifact is a binary produced by one task.
type Artifact struct {
	Task matrix.Task
	Path string
	MD5  string
	SHA1 string
}

// DefaultVersionPackage is the package stamped when none is configured.
// Binaries declare Version, CommitHash and BuildDate string variables in
// their main package.
const DefaultVersionPackage = "main"

// Builder runs compile tasks.
type Builder struct {
	goBin          string
	repoRoot       string
	distDir        string
	versionPackage string
	workers        int
	policy         Policy
	runner         executor.Runner
	fs             billy.Filesystem
	logger         *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithGo sets the go program.
func WithGo(program string) Option {
	return func(b *Builder) {
		if program != "" {
			b.goBin = program
		}
	}
}

// WithRepoRoot sets the directory the compiler runs in.
func WithRepoRoot(dir string) Option {
	return func(b *Builder) {
		b.repoRoot = dir
	}
}

// WithDistDir sets the output root.
func WithDistDir(dir string) Option {
	return func(b *Builder) {
		b.distDir = dir
	}
}

// WithVersionPackage sets the package whose Version, CommitHash and
// BuildDate variables are set at link time for versioned targets.
// An empty pkg keeps DefaultVersionPackage.
func WithVersionPackage(pkg string) Option {
	return func(b *Builder) {
		if pkg != "" {
			b.versionPackage = pkg
		}
	}
}

// WithWorkers bounds the number of concurrent compilations.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithPolicy sets the failure policy for Run.
func WithPolicy(p Policy) Option {
	return func(b *Builder) {
		b.policy = p
	}
}

// WithRunner sets the command runner.
func WithRunner(r executor.Runner) Option {
	return func(b *Builder) {
		b.runner = r
	}
}

// WithFilesystem sets the filesystem output directories and checksum
// sidecars are written to. It must see the files the compiler writes.
func WithFilesystem(filesystem billy.Filesystem) Option {
	return func(b *Builder) {
		b.fs = filesystem
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		goBin:          "go",
		distDir:        "dist",
		versionPackage: DefaultVersionPackage,
		workers:        runtime.NumCPU(),
		policy:         DefaultPolicy,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.runner == nil {
		b.runner = executor.NewRunner()
	}
	if b.fs == nil {
		b.fs = osfs.New("")
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// GOOS maps a matrix OS to the compiler's GOOS. Alpine builds are static
// linux binaries.
func GOOS(os string) string {
	if os == "alpine" {
		return "linux"
	}
	return os
}

// OutputPath returns where the binary for task is written.
func (b *Builder) OutputPath(task matrix.Task) string {
	name := fmt.Sprintf("%s-%s-%s", task.Target, task.OS, task.Arch)
	if GOOS(task.OS) == "windows" {
		name += ".exe"
	}
	return filepath.Join(b.distDir, task.Target, name)
}

// LDFlags returns the linker flags that stamp meta into a versioned binary.
func (b *Builder) LDFlags(meta metadata.BuildMetadata) string {
	return strings.Join([]string{
		fmt.Sprintf("-X %s.Version=%s", b.versionPackage, meta.Version),
		fmt.Sprintf("-X %s.CommitHash=%s", b.versionPackage, meta.Commit),
		fmt.Sprintf("-X %s.BuildDate=%s", b.versionPackage, meta.BuildDate.UTC().Format(time.RFC3339)),
	}, " ")
}

// Args returns the go arguments for task.
func (b *Builder) Args(task matrix.Task, meta metadata.BuildMetadata) []string {
	args := []string{"build", "-o", b.OutputPath(task)}
	if task.Versioned {
		args = append(args, "-ldflags", b.LDFlags(meta))
	}
	entry := task.Entry
	if entry == "" {
		entry = matrix.DefaultEntry
	}
	return append(args, entry)
}

// Execute compiles one task and writes its checksum sidecars.
func (b *Builder) Execute(ctx context.Context, task matrix.Task, meta metadata.BuildMetadata) (Artifact, error) {
	out := b.OutputPath(task)
	if err := b.fs.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Artifact{}, taskError(err, task, "create output directory")
	}

	env := map[string]string{
		"GOOS":        GOOS(task.OS),
		"GOARCH":      task.Arch,
		"CGO_ENABLED": "0",
	}

	b.logger.InfoContext(ctx, "building", "task", task.String(), "output", out)
	result, err := b.runner.Run(ctx, b.goBin, b.Args(task, meta),
		executor.WithWorkingDir(b.repoRoot),
		executor.WithEnv(env),
	)
	if err != nil {
		e := taskError(err, task, "compile failed")
		if result != nil {
			e.With("exit_code", result.ExitCode)
			if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
				e.With("stderr", stderr)
			}
		}
		return Artifact{}, e
	}

	art := Artifact{Task: task, Path: out}
	if art.MD5, err = b.writeSidecar(out, ".md5", md5.New()); err != nil {
		return Artifact{}, taskError(err, task, "write md5 checksum")
	}
	if art.SHA1, err = b.writeSidecar(out, ".sha1", sha1.New()); err != nil {
		return Artifact{}, taskError(err, task, "write sha1 checksum")
	}
	return art, nil
}

// Run executes tasks on a bounded pool and reports the outcome of each.
// Under PolicyFailFast no new task starts after the first failure and
// in-flight tasks see a cancelled context.
func (b *Builder) Run(ctx context.Context, tasks []matrix.Task, meta metadata.BuildMetadata) *Report {
	var (
		mu      sync.Mutex
		results = make([]taskResult, len(tasks))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i, task := range tasks {
		if gctx.Err() != nil {
			results[i] = taskResult{skipped: true}
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				results[i] = taskResult{skipped: true}
				mu.Unlock()
				return nil
			}

			art, err := b.Execute(gctx, task, meta)

			mu.Lock()
			results[i] = taskResult{artifact: art, err: err}
			mu.Unlock()

			if err != nil {
				b.logger.ErrorContext(ctx, "build failed", "task", task.String(), "error", err)
				if b.policy.FailFast() {
					return err
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{}
	for i, r := range results {
		switch {
		case r.skipped:
			report.Skipped = append(report.Skipped, tasks[i])
		case r.err != nil:
			report.Failures = append(report.Failures, Failure{Task: tasks[i], Err: r.err})
		default:
			report.Artifacts = append(report.Artifacts, r.artifact)
		}
	}
	if len(report.Skipped) > 0 && ctx.Err() != nil {
		report.Cancelled = ctx.Err()
	}
	return report
}

type taskResult struct {
	artifact Artifact
	err      error
	skipped  bool
}

func taskError(err error, task matrix.Task, msg string) *relerrors.Error {
	var e *relerrors.Error
	if errors.As(err, &e) && e.Code == relerrors.CodeBuildFailed {
		return e
	}
	return relerrors.Wrap(err, relerrors.CodeBuildFailed, msg).
		With("target", task.Target).
		With("os", task.OS).
		With("arch", task.Arch)
}

// writeSidecar writes "<sum>  <name>\n" next to path, in the format
// md5sum and sha1sum check against.
func (b *Builder) writeSidecar(path, ext string, h hash.Hash) (string, error) {
	f, err := b.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(path))
	if err := util.WriteFile(b.fs, path+ext, []byte(line), 0o644); err != nil {
		return "", err
	}
	return sum, nil
}
