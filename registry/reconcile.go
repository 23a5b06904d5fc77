package registry

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/store"
)

// Reconciler merges a released version into a target's remote registry and
// moves its latest pointer.
//
// Reconcile is a read-modify-write against the store with no compare-and-swap.
// Two reconcilers running against the same target and bucket can lose an
// entry, last writer wins. Callers must serialize releases per target, for
// example by running a single release job per target.
type Reconciler struct {
	store   store.Store
	distDir string
	fs      billy.Filesystem
	logger  *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithFilesystem sets the filesystem holding the scratch copies.
// Defaults to the OS filesystem.
func WithFilesystem(filesystem billy.Filesystem) Option {
	return func(r *Reconciler) {
		r.fs = filesystem
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler creates a Reconciler that keeps scratch copies under
// distDir/<target>/.
func NewReconciler(st store.Store, distDir string, opts ...Option) *Reconciler {
	r := &Reconciler{store: st, distDir: distDir}
	for _, opt := range opts {
		opt(r)
	}
	if r.fs == nil {
		r.fs = osfs.New("")
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// ScratchDir returns the local working directory for target.
func (r *Reconciler) ScratchDir(target string) string {
	return r.fs.Join(r.distDir, target)
}

// Reconcile records version for target:
//
//  1. fetch binaries/<target>/versions.json; a missing object is an empty registry
//  2. parse it; malformed content fails without touching anything
//  3. add {changesets: [], release_date: now} unless version is already present
//  4. write the scratch copy and upload it public-read
//  5. write latest.txt and upload it public-read
//
// A failure at step 4 returns before the latest pointer is written.
func (r *Reconciler) Reconcile(ctx context.Context, target, version string, now time.Time) error {
	if version == "" {
		return relerrors.New(relerrors.CodeInvalidInput, "empty version").With("target", target)
	}
	scratch := r.ScratchDir(target)
	if err := r.fs.MkdirAll(scratch, 0o755); err != nil {
		return fail(err, "create scratch directory", target)
	}
	registryPath := r.fs.Join(scratch, RegistryFile)

	remote, err := r.store.Get(ctx, RegistryKey(target))
	switch {
	case store.IsObjectNotFound(err):
		r.logger.InfoContext(ctx, "no remote registry, starting empty", "target", target)
		remote = nil
	case err != nil:
		return fail(err, "fetch registry", target)
	default:
		if err := util.WriteFile(r.fs, registryPath, remote, 0o644); err != nil {
			return fail(err, "write scratch registry", target)
		}
	}

	reg := Registry{}
	if remote != nil {
		if reg, err = Parse(remote); err != nil {
			return fail(err, "malformed remote registry", target).With("key", RegistryKey(target))
		}
	}

	if !reg.Merge(version, now) {
		r.logger.InfoContext(ctx, "version already registered", "target", target, "version", version)
	}

	encoded, err := reg.Encode()
	if err != nil {
		return fail(err, "encode registry", target)
	}
	if err := util.WriteFile(r.fs, registryPath, encoded, 0o644); err != nil {
		return fail(err, "write scratch registry", target)
	}
	if err := r.store.Put(ctx, RegistryKey(target), bytes.NewReader(encoded),
		store.WithContentType("application/json"), store.WithPublicRead()); err != nil {
		return fail(err, "upload registry", target).With("key", RegistryKey(target))
	}

	latestPath := r.fs.Join(scratch, LatestFile)
	if err := util.WriteFile(r.fs, latestPath, []byte(version), 0o644); err != nil {
		return fail(err, "write scratch latest pointer", target)
	}
	if err := r.store.Put(ctx, LatestKey(target), bytes.NewReader([]byte(version)),
		store.WithContentType("text/plain"), store.WithPublicRead()); err != nil {
		return fail(err, "upload latest pointer", target).With("key", LatestKey(target))
	}

	r.logger.InfoContext(ctx, "registry updated", "target", target, "version", version,
		"versions", len(reg))
	return nil
}

func fail(err error, msg, target string) *relerrors.Error {
	return relerrors.Wrap(err, relerrors.CodeRegistryFailed, msg).With("target", target)
}
