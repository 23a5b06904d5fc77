package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"gopkg.in/yaml.v3"

	"github.com/input-output-hk/forge-release/build"
	"github.com/input-output-hk/forge-release/config"
	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/executor"
	"github.com/input-output-hk/forge-release/matrix"
	"github.com/input-output-hk/forge-release/metadata"
	"github.com/input-output-hk/forge-release/publish"
	"github.com/input-output-hk/forge-release/registry"
	"github.com/input-output-hk/forge-release/store"
)

// MetadataResolver resolves build metadata for a checkout.
type MetadataResolver interface {
	Resolve(ctx context.Context, repoRoot string) (metadata.BuildMetadata, error)
}

// StoreOpener opens the store behind a bucket URL.
type StoreOpener func(ctx context.Context, url string) (store.Store, error)

// Runner executes stages against one PipelineConfig. Metadata is resolved
// at most once, on first use.
type Runner struct {
	cfg      *config.PipelineConfig
	exec     executor.Runner
	resolver MetadataResolver
	open     StoreOpener
	now      func() time.Time
	hostOS   string
	hostArch string
	format   OutputFormat
	out      io.Writer
	fs       billy.Filesystem
	logger   *slog.Logger

	metaOnce sync.Once
	meta     metadata.BuildMetadata
	metaErr  error
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor sets the command runner for toolchain invocations.
func WithExecutor(e executor.Runner) Option {
	return func(r *Runner) {
		r.exec = e
	}
}

// WithResolver replaces the git metadata resolver.
func WithResolver(res MetadataResolver) Option {
	return func(r *Runner) {
		r.resolver = res
	}
}

// WithStoreOpener replaces how bucket URLs are opened.
func WithStoreOpener(open StoreOpener) Option {
	return func(r *Runner) {
		r.open = open
	}
}

// WithClock sets the clock used for registry release dates.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithHost sets the platform used for targets without platforms.
func WithHost(goos, goarch string) Option {
	return func(r *Runner) {
		r.hostOS = goos
		r.hostArch = goarch
	}
}

// WithVersionFormat sets the version stage's output format.
func WithVersionFormat(f OutputFormat) Option {
	return func(r *Runner) {
		r.format = f
	}
}

// WithOutput sets where the version stage prints.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.out = w
	}
}

// WithFilesystem sets the filesystem the dist directory lives on.
func WithFilesystem(filesystem billy.Filesystem) Option {
	return func(r *Runner) {
		r.fs = filesystem
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a Runner.
func New(cfg *config.PipelineConfig, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		now:      time.Now,
		hostOS:   runtime.GOOS,
		hostArch: runtime.GOARCH,
		format:   FormatEnv,
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.fs == nil {
		r.fs = osfs.New("")
	}
	if r.exec == nil {
		r.exec = executor.NewRunner(executor.WithLogger(r.logger))
	}
	if r.resolver == nil {
		r.resolver = metadata.NewResolver(cfg.Environment(),
			metadata.WithVersionOverride(cfg.VersionOverride()),
			metadata.WithLogger(r.logger))
	}
	if r.open == nil {
		r.open = r.defaultOpener
	}
	return r
}

func (r *Runner) defaultOpener(ctx context.Context, url string) (store.Store, error) {
	sc := r.cfg.Store()
	return store.Open(ctx, url,
		store.WithRegion(sc.Region),
		store.WithEndpoint(sc.Endpoint),
		store.WithForcePathStyle(sc.ForcePathStyle),
		store.WithInsecure(sc.Insecure),
		store.WithGSUtil(r.cfg.Toolchain().GSUtil),
		store.WithRunner(r.exec),
		store.WithFilesystem(r.fs),
		store.WithLogger(r.logger),
	)
}

// Metadata returns the run's build metadata, resolving it on first call.
func (r *Runner) Metadata(ctx context.Context) (metadata.BuildMetadata, error) {
	r.metaOnce.Do(func() {
		r.meta, r.metaErr = r.resolver.Resolve(ctx, r.cfg.RepoRoot())
	})
	return r.meta, r.metaErr
}

// RunStage runs one stage or composition. The returned error aggregates
// every failure in the summary.
func (r *Runner) RunStage(ctx context.Context, kind StageKind, args []string) (*Summary, error) {
	target, err := targetArg(kind, args)
	if err != nil {
		return &Summary{}, err
	}

	sum := &Summary{}
	switch kind {
	case StageVersion:
		r.step(ctx, sum, kind, r.version)
	case StageFmt:
		r.step(ctx, sum, kind, r.formatSources)
	case StageVet:
		r.step(ctx, sum, kind, r.tool(StageVet, r.cfg.Toolchain().Go, "vet", "./..."))
	case StageLint:
		r.step(ctx, sum, kind, r.tool(StageLint, r.cfg.Toolchain().Golint, "./..."))
	case StageGen:
		r.step(ctx, sum, kind, r.tool(StageGen, r.cfg.Toolchain().Go, "generate", "./..."))
	case StageInstall:
		r.step(ctx, sum, kind, r.tool(StageInstall, r.cfg.Toolchain().Go, "install", "./..."))
	case StageBuild:
		r.step(ctx, sum, kind, func(ctx context.Context) error {
			_, err := r.build(ctx, target)
			return err
		})
	case StagePush:
		r.step(ctx, sum, kind, func(ctx context.Context) error { return r.push(ctx, target) })
	case StageRegistry:
		r.step(ctx, sum, kind, func(ctx context.Context) error { return r.registry(ctx, target) })
	case StageRelease:
		r.release(ctx, sum, target)
	case StageDefault:
		r.sequence(ctx, sum,
			stageStep{StageGen, r.tool(StageGen, r.cfg.Toolchain().Go, "generate", "./...")},
			stageStep{StageFmt, r.formatSources},
			stageStep{StageInstall, r.tool(StageInstall, r.cfg.Toolchain().Go, "install", ".")},
		)
	default:
		return sum, relerrors.Newf(relerrors.CodeInvalidInput, "unknown stage %d", kind)
	}
	return sum, sum.Err()
}

func targetArg(kind StageKind, args []string) (string, error) {
	switch {
	case len(args) == 0:
		return "", nil
	case kind.TakesTarget() && len(args) == 1:
		return args[0], nil
	case kind.TakesTarget():
		return "", relerrors.Newf(relerrors.CodeInvalidInput, "%s takes at most one target, got %d", kind, len(args))
	default:
		return "", relerrors.Newf(relerrors.CodeInvalidInput, "%s takes no arguments", kind)
	}
}

type stageStep struct {
	kind StageKind
	run  func(context.Context) error
}

// step runs fn and records its result. It reports whether later steps
// of a composition may run.
func (r *Runner) step(ctx context.Context, sum *Summary, kind StageKind, fn func(context.Context) error) bool {
	start := time.Now()
	r.logger.InfoContext(ctx, "stage started", "stage", kind.String())

	err := ctx.Err()
	if err == nil {
		err = fn(ctx)
	}
	sum.record(kind, start, err)

	if err != nil {
		r.logger.ErrorContext(ctx, "stage failed", "stage", kind.String(), "error", err)
		return !r.cfg.Policy().FailFast() && !relerrors.IsFatal(err) && ctx.Err() == nil
	}
	r.logger.InfoContext(ctx, "stage finished", "stage", kind.String(), "duration", time.Since(start))
	return true
}

// sequence runs steps in order, stopping early under fail-fast or on a
// fatal error.
func (r *Runner) sequence(ctx context.Context, sum *Summary, steps ...stageStep) {
	for _, s := range steps {
		if !r.step(ctx, sum, s.kind, s.run) {
			return
		}
	}
}

func (r *Runner) version(ctx context.Context) error {
	meta, err := r.Metadata(ctx)
	if err != nil {
		return err
	}
	return writeMetadata(r.out, meta, r.format)
}

func writeMetadata(w io.Writer, meta metadata.BuildMetadata, format OutputFormat) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta.Map())
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(meta.Map()); err != nil {
			return err
		}
		return enc.Close()
	default:
		for _, f := range meta.Fields() {
			if _, err := fmt.Fprintf(w, "%s=%s\n", f[0], f[1]); err != nil {
				return err
			}
		}
		return nil
	}
}

// formatSources runs goimports then gofmt -s over the configured paths.
func (r *Runner) formatSources(ctx context.Context) error {
	tc := r.cfg.Toolchain()
	if err := r.tool(StageFmt, tc.Goimports, append([]string{"-w"}, tc.FormatPaths...)...)(ctx); err != nil {
		return err
	}
	return r.tool(StageFmt, tc.Gofmt, append([]string{"-s", "-w"}, tc.FormatPaths...)...)(ctx)
}

// tool returns a step running program in the repository root with output
// streamed to the console.
func (r *Runner) tool(kind StageKind, program string, args ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		result, err := r.exec.Run(ctx, program, args,
			executor.WithEcho(os.Stdout, os.Stderr),
			executor.WithWorkingDir(r.cfg.RepoRoot()),
		)
		if err == nil {
			return nil
		}
		e := relerrors.Wrap(err, relerrors.CodeExecutionFailed, kind.String()+" failed").
			With("command", executor.CommandLine(program, args))
		if result != nil {
			e.With("exit_code", result.ExitCode)
		}
		return e
	}
}

func (r *Runner) targets(name string) (map[string]matrix.TargetSpec, error) {
	all := r.cfg.Targets()
	if name == "" {
		return all, nil
	}
	return matrix.Select(all, name)
}

func (r *Runner) build(ctx context.Context, name string) (*build.Report, error) {
	targets, err := r.targets(name)
	if err != nil {
		return nil, err
	}
	tasks, err := matrix.Expand(targets, r.hostOS, r.hostArch)
	if err != nil {
		return nil, err
	}
	meta, err := r.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	tc := r.cfg.Toolchain()
	b := build.New(
		build.WithGo(tc.Go),
		build.WithRepoRoot(r.cfg.RepoRoot()),
		build.WithDistDir(r.cfg.DistDir()),
		build.WithVersionPackage(tc.VersionPackage),
		build.WithWorkers(r.cfg.Workers()),
		build.WithPolicy(r.cfg.Policy()),
		build.WithRunner(r.exec),
		build.WithFilesystem(r.fs),
		build.WithLogger(r.logger),
	)
	report := b.Run(ctx, tasks, meta)
	return report, report.Err()
}

func (r *Runner) openBucket(ctx context.Context) (store.Store, error) {
	url, err := r.cfg.Bucket()
	if err != nil {
		return nil, err
	}
	st, err := r.open(ctx, url)
	if err != nil {
		return nil, relerrors.Wrap(err, relerrors.CodeInvalidConfig, "open bucket").With("bucket", url)
	}
	return st, nil
}

func (r *Runner) publisher() *publish.Publisher {
	return publish.New(
		publish.WithConcurrency(r.cfg.Store().Concurrency),
		publish.WithFailFast(r.cfg.Policy().FailFast()),
		publish.WithFilesystem(r.fs),
		publish.WithLogger(r.logger),
	)
}

func (r *Runner) push(ctx context.Context, name string) error {
	meta, err := r.Metadata(ctx)
	if err != nil {
		return err
	}
	st, err := r.openBucket(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		return r.publisher().PublishAll(ctx, meta.Version, r.cfg.DistDir(), st)
	}
	return r.publisher().Publish(ctx, name, meta.Version, r.fs.Join(r.cfg.DistDir(), name), st)
}

func (r *Runner) registry(ctx context.Context, name string) error {
	targets := r.cfg.ReleaseTargets()
	if name != "" {
		if _, ok := r.cfg.Target(name); !ok {
			return relerrors.Newf(relerrors.CodeNotFound, "unknown target %q", name).With("target", name)
		}
		targets = []string{name}
	}
	return r.reconcile(ctx, targets)
}

func (r *Runner) reconcile(ctx context.Context, targets []string) error {
	meta, err := r.Metadata(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	st, err := r.openBucket(ctx)
	if err != nil {
		return err
	}

	rec := registry.NewReconciler(st, r.cfg.DistDir(),
		registry.WithFilesystem(r.fs),
		registry.WithLogger(r.logger))
	m := &relerrors.Multi{Code: relerrors.CodeRegistryFailed}
	for _, target := range targets {
		if err := rec.Reconcile(ctx, target, meta.Version, r.now()); err != nil {
			m.Add(err)
			if r.cfg.Policy().FailFast() {
				break
			}
		}
	}
	return m.ErrorOrNil()
}

// release builds, publishes the targets whose every task built, and
// reconciles the registry for the published release targets.
func (r *Runner) release(ctx context.Context, sum *Summary, name string) {
	var built, published []string

	ok := r.step(ctx, sum, StageBuild, func(ctx context.Context) error {
		report, err := r.build(ctx, name)
		if report != nil {
			built = report.BuiltTargets()
		}
		return err
	})
	if !ok {
		return
	}

	ok = r.step(ctx, sum, StagePush, func(ctx context.Context) error {
		meta, err := r.Metadata(ctx)
		if err != nil {
			return err
		}
		st, err := r.openBucket(ctx)
		if err != nil {
			return err
		}
		p := r.publisher()
		m := &relerrors.Multi{Code: relerrors.CodePublishFailed}
		for _, target := range built {
			if err := p.Publish(ctx, target, meta.Version, r.fs.Join(r.cfg.DistDir(), target), st); err != nil {
				m.Add(err)
				if r.cfg.Policy().FailFast() {
					break
				}
				continue
			}
			published = append(published, target)
		}
		return m.ErrorOrNil()
	})
	if !ok {
		return
	}

	var releasable []string
	for _, target := range published {
		if spec, ok := r.cfg.Target(target); ok && spec.Release {
			releasable = append(releasable, target)
		}
	}
	r.step(ctx, sum, StageRegistry, func(ctx context.Context) error {
		return r.reconcile(ctx, releasable)
	})
}
