// Package store provides the object stores artifacts and registries are
// published to. A bucket URL selects the backend:
//
//	s3://bucket/prefix          Amazon S3 (or any S3 endpoint) via aws-sdk-go-v2
//	gs://bucket/prefix          Google Cloud Storage via the gsutil CLI
//	minio://host:9000/bucket    MinIO via minio-go
//	file:///var/lib/releases    a local directory
//
// Every Put overwrites, so re-running a publish is always safe. Credentials
// come from each backend's default chain and are never handled here.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"

	"github.com/input-output-hk/forge-release/executor"
)

// DefaultContentType is used when content type detection fails.
const DefaultContentType = "application/octet-stream"

// Store reads and writes objects relative to one bucket location.
type Store interface {
	// Get returns the object's content. Missing objects yield ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put uploads body to key, overwriting any existing object.
	Put(ctx context.Context, key string, body io.ReadSeeker, opts ...PutOption) error

	// Location returns where the store points.
	Location() Location
}

// PutOptions configures a single upload.
type PutOptions struct {
	// ContentType overrides detection.
	ContentType string

	// PublicRead grants anonymous read access to the object.
	PublicRead bool
}

// PutOption modifies PutOptions.
type PutOption func(*PutOptions)

// WithContentType sets the content type for an upload.
func WithContentType(contentType string) PutOption {
	return func(o *PutOptions) {
		o.ContentType = contentType
	}
}

// WithPublicRead makes the uploaded object world readable.
func WithPublicRead() PutOption {
	return func(o *PutOptions) {
		o.PublicRead = true
	}
}

// ApplyPutOptions folds opts into PutOptions and fills the content type
// from key and body when it was not set.
func ApplyPutOptions(key string, body io.ReadSeeker, opts ...PutOption) (PutOptions, error) {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.ContentType == "" {
		ct, err := DetectContentType(key, body)
		if err != nil {
			return o, err
		}
		o.ContentType = ct
	}
	return o, nil
}

// DetectContentType prefers the key's extension and falls back to sniffing
// the body with mimetype. The body is rewound afterwards.
func DetectContentType(key string, body io.ReadSeeker) (string, error) {
	if ext := strings.ToLower(filepath.Ext(key)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt, nil
		}
	}

	mt, err := mimetype.DetectReader(body)
	if _, seekErr := body.Seek(0, io.SeekStart); seekErr != nil {
		return "", fmt.Errorf("rewind body: %w", seekErr)
	}
	if err != nil || mt == nil {
		return DefaultContentType, nil
	}
	return mt.String(), nil
}

// Options configures backend construction.
type Options struct {
	// Region is the AWS region for s3:// locations.
	Region string

	// Endpoint overrides the S3 endpoint (LocalStack, S3-compatible services).
	Endpoint string

	// ForcePathStyle switches S3 to path-style addressing.
	ForcePathStyle bool

	// Insecure disables TLS for minio:// endpoints.
	Insecure bool

	// GSUtil is the gsutil program used for gs:// locations.
	GSUtil string

	// Runner executes gsutil. Defaults to an executor.CommandRunner.
	Runner executor.Runner

	// Filesystem backs file:// locations. Defaults to the OS filesystem.
	Filesystem billy.Filesystem

	// Logger receives per-object debug lines.
	Logger *slog.Logger
}

// Option modifies Options.
type Option func(*Options)

// WithRegion sets the AWS region for S3 operations.
func WithRegion(region string) Option {
	return func(o *Options) {
		o.Region = region
	}
}

// WithEndpoint sets a custom S3 endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
	}
}

// WithForcePathStyle forces path-style S3 URLs.
func WithForcePathStyle(force bool) Option {
	return func(o *Options) {
		o.ForcePathStyle = force
	}
}

// WithInsecure disables TLS for MinIO endpoints.
func WithInsecure(insecure bool) Option {
	return func(o *Options) {
		o.Insecure = insecure
	}
}

// WithGSUtil sets the gsutil program name or path.
func WithGSUtil(program string) Option {
	return func(o *Options) {
		if program != "" {
			o.GSUtil = program
		}
	}
}

// WithRunner sets the command runner used by CLI-backed stores.
func WithRunner(runner executor.Runner) Option {
	return func(o *Options) {
		o.Runner = runner
	}
}

// WithFilesystem sets the filesystem file:// locations resolve against.
func WithFilesystem(filesystem billy.Filesystem) Option {
	return func(o *Options) {
		o.Filesystem = filesystem
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Open parses rawURL and constructs the matching backend.
func Open(ctx context.Context, rawURL string, opts ...Option) (Store, error) {
	loc, err := ParseLocation(rawURL)
	if err != nil {
		return nil, err
	}

	o := &Options{GSUtil: "gsutil"}
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Runner == nil {
		o.Runner = executor.NewRunner()
	}

	switch loc.Scheme {
	case SchemeS3:
		return NewS3(ctx, loc, o)
	case SchemeGCS:
		return NewGSUtil(loc, o.GSUtil, o.Runner, o.Logger), nil
	case SchemeMinio:
		return NewMinio(loc, o)
	case SchemeFile:
		return NewLocal(loc, o.Filesystem, o.Logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, loc.Scheme)
	}
}
