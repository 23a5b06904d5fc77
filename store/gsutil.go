package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/input-output-hk/forge-release/executor"
)

// gsutil prints one of these when an object does not exist.
var gsutilNotFound = []string{
	"No URLs matched",
	"matched no objects",
	"NotFoundException",
}

// GSUtilStore is a Store backed by Google Cloud Storage through the gsutil
// CLI, so authentication stays with the operator's gcloud setup.
type GSUtilStore struct {
	program string
	runner  executor.Runner
	loc     Location
	logger  *slog.Logger
}

// NewGSUtil creates a GSUtilStore.
func NewGSUtil(loc Location, program string, runner executor.Runner, logger *slog.Logger) *GSUtilStore {
	if program == "" {
		program = "gsutil"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GSUtilStore{program: program, runner: runner, loc: loc, logger: logger}
}

// Location implements Store.
func (g *GSUtilStore) Location() Location {
	return g.loc
}

// Get implements Store using `gsutil cat`.
func (g *GSUtilStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, NewObjectError("get", g.loc.Bucket, key, err)
	}
	url := g.loc.URL(key)

	result, err := g.runner.Run(ctx, g.program, []string{"cat", url})
	if err != nil {
		if result != nil && isGSUtilNotFound(result.Stderr) {
			return nil, NewObjectError("get", g.loc.Bucket, g.loc.Key(key), ErrObjectNotFound)
		}
		return nil, NewObjectError("get", g.loc.Bucket, g.loc.Key(key), commandError(err, result))
	}
	return []byte(result.Stdout), nil
}

// Put implements Store using `gsutil cp -` and, for public objects,
// `gsutil acl ch -u AllUsers:R`.
func (g *GSUtilStore) Put(ctx context.Context, key string, body io.ReadSeeker, opts ...PutOption) error {
	if err := validateKey(key); err != nil {
		return NewObjectError("put", g.loc.Bucket, key, err)
	}
	url := g.loc.URL(key)

	o, err := ApplyPutOptions(key, body, opts...)
	if err != nil {
		return NewObjectError("put", g.loc.Bucket, g.loc.Key(key), err)
	}

	args := []string{"-h", "Content-Type:" + o.ContentType, "cp", "-", url}
	result, err := g.runner.Run(ctx, g.program, args, executor.WithStdin(body))
	if err != nil {
		return NewObjectError("put", g.loc.Bucket, g.loc.Key(key), commandError(err, result))
	}

	if o.PublicRead {
		result, err = g.runner.Run(ctx, g.program, []string{"acl", "ch", "-u", "AllUsers:R", url})
		if err != nil {
			return NewObjectError("acl", g.loc.Bucket, g.loc.Key(key), commandError(err, result))
		}
	}

	g.logger.DebugContext(ctx, "uploaded object", "url", url, "content_type", o.ContentType)
	return nil
}

func isGSUtilNotFound(stderr string) bool {
	// A missing bucket is a misconfiguration, not a missing object.
	if strings.Contains(stderr, "BucketNotFoundException") {
		return false
	}
	for _, marker := range gsutilNotFound {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func commandError(err error, result *executor.Result) error {
	if result == nil || strings.TrimSpace(result.Stderr) == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, strings.TrimSpace(result.Stderr))
}
