// Package publish uploads built artifacts to an object store under
// binaries/<target>/<version>/.
package publish

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/sync/errgroup"

	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/store"
)

// DefaultConcurrency bounds uploads within one Publish call.
const DefaultConcurrency = 4

// SidecarExtensions are the checksum files discarded before upload.
var SidecarExtensions = []string{".md5", ".sha1"}

// ArtifactKey returns the remote key of one artifact file.
func ArtifactKey(target, version, file string) string {
	return path.Join("binaries", target, version, file)
}

// Publisher uploads artifact directories.
type Publisher struct {
	concurrency int
	failFast    bool
	fs          billy.Filesystem
	logger      *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithConcurrency bounds the number of concurrent uploads.
func WithConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithFailFast makes PublishAll stop at the first target that fails.
// Uploads within one target always run to completion.
func WithFailFast(failFast bool) Option {
	return func(p *Publisher) {
		p.failFast = failFast
	}
}

// WithFilesystem sets the filesystem artifact directories are read from.
// Defaults to the OS filesystem.
func WithFilesystem(filesystem billy.Filesystem) Option {
	return func(p *Publisher) {
		p.fs = filesystem
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(p)
	}
	if p.fs == nil {
		p.fs = osfs.New("")
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Publish removes checksum sidecars from dir and then uploads every
// remaining regular file, public-read, to binaries/<target>/<version>/.
// A failed upload does not stop its siblings; all failures are returned
// as one PUBLISH_FAILED error. Re-running is safe since every upload
// overwrites.
func (p *Publisher) Publish(ctx context.Context, target, version, dir string, st store.Store) error {
	if err := p.removeSidecars(dir); err != nil {
		return relerrors.Wrap(err, relerrors.CodePublishFailed, "remove checksum sidecars").
			With("target", target).With("dir", dir)
	}

	files, err := p.regularFiles(dir)
	if err != nil {
		return relerrors.Wrap(err, relerrors.CodePublishFailed, "list artifacts").
			With("target", target).With("dir", dir)
	}

	var (
		mu     sync.Mutex
		failed = make([]error, len(files))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, name := range files {
		g.Go(func() error {
			key := ArtifactKey(target, version, name)
			if err := p.upload(gctx, st, p.fs.Join(dir, name), key); err != nil {
				p.logger.ErrorContext(ctx, "upload failed", "key", key, "error", err)
				mu.Lock()
				failed[i] = relerrors.Wrap(err, relerrors.CodePublishFailed, "upload failed").
					With("target", target).With("file", name).With("key", key)
				mu.Unlock()
				return nil
			}
			p.logger.InfoContext(ctx, "uploaded", "url", st.Location().URL(key))
			return nil
		})
	}
	_ = g.Wait()

	m := &relerrors.Multi{Code: relerrors.CodePublishFailed}
	for _, err := range failed {
		m.Add(err)
	}
	return m.ErrorOrNil()
}

// PublishAll publishes every target directory under distDir in name order.
func (p *Publisher) PublishAll(ctx context.Context, version, distDir string, st store.Store) error {
	targets, err := p.Targets(distDir)
	if err != nil {
		return relerrors.Wrap(err, relerrors.CodePublishFailed, "list dist directory").With("dir", distDir)
	}
	return p.PublishTargets(ctx, targets, version, distDir, st)
}

// PublishTargets publishes the named target directories under distDir.
func (p *Publisher) PublishTargets(ctx context.Context, targets []string, version, distDir string, st store.Store) error {
	m := &relerrors.Multi{Code: relerrors.CodePublishFailed}
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			m.Add(relerrors.Wrap(err, relerrors.CodePublishFailed, "publish cancelled").With("target", target))
			break
		}
		if err := p.Publish(ctx, target, version, p.fs.Join(distDir, target), st); err != nil {
			m.Add(err)
			if p.failFast {
				break
			}
		}
	}
	return m.ErrorOrNil()
}

// Targets lists the target directories under distDir in name order.
func (p *Publisher) Targets(distDir string) ([]string, error) {
	entries, err := p.fs.ReadDir(distDir)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, e := range entries {
		if e.IsDir() {
			targets = append(targets, e.Name())
		}
	}
	sort.Strings(targets)
	return targets, nil
}

func (p *Publisher) upload(ctx context.Context, st store.Store, file, key string) error {
	f, err := p.fs.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return st.Put(ctx, key, f, store.WithPublicRead())
}

func isSidecar(name string) bool {
	for _, ext := range SidecarExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (p *Publisher) removeSidecars(dir string) error {
	entries, err := p.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Mode().IsRegular() && isSidecar(e.Name()) {
			if err := p.fs.Remove(p.fs.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Publisher) regularFiles(dir string) ([]string, error) {
	entries, err := p.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Mode().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
