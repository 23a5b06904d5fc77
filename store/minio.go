package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioAPI is the subset of *minio.Client used by MinioStore.
type MinioAPI interface {
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioStore is a Store backed by a MinIO server.
type MinioStore struct {
	client MinioAPI
	loc    Location
	logger *slog.Logger
}

// NewMinio creates a MinioStore for loc. Credentials are read from the
// MINIO_ACCESS_KEY/MINIO_SECRET_KEY environment.
func NewMinio(loc Location, o *Options) (*MinioStore, error) {
	client, err := minio.New(loc.Endpoint, &minio.Options{
		Creds:  credentials.NewEnvMinio(),
		Secure: !o.Insecure,
		Region: o.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client for %s: %w", loc.Endpoint, err)
	}
	return NewMinioWithClient(client, loc, o.Logger), nil
}

// NewMinioWithClient creates a MinioStore around an existing client.
func NewMinioWithClient(client MinioAPI, loc Location, logger *slog.Logger) *MinioStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MinioStore{client: client, loc: loc, logger: logger}
}

// Location implements Store.
func (m *MinioStore) Location() Location {
	return m.loc
}

// Get implements Store.
func (m *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, NewObjectError("get", m.loc.Bucket, key, err)
	}
	full := m.loc.Key(key)

	obj, err := m.client.GetObject(ctx, m.loc.Bucket, full, minio.GetObjectOptions{})
	if err != nil {
		return nil, NewObjectError("get", m.loc.Bucket, full, translateMinioError(err))
	}
	defer func() {
		_ = obj.Close()
	}()

	// GetObject is lazy; a missing key surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, NewObjectError("get", m.loc.Bucket, full, translateMinioError(err))
	}
	return data, nil
}

// Put implements Store.
func (m *MinioStore) Put(ctx context.Context, key string, body io.ReadSeeker, opts ...PutOption) error {
	if err := validateKey(key); err != nil {
		return NewObjectError("put", m.loc.Bucket, key, err)
	}
	full := m.loc.Key(key)

	o, err := ApplyPutOptions(key, body, opts...)
	if err != nil {
		return NewObjectError("put", m.loc.Bucket, full, err)
	}

	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return NewObjectError("put", m.loc.Bucket, full, err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return NewObjectError("put", m.loc.Bucket, full, err)
	}

	putOpts := minio.PutObjectOptions{ContentType: o.ContentType}
	if o.PublicRead {
		putOpts.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}

	if _, err := m.client.PutObject(ctx, m.loc.Bucket, full, body, size, putOpts); err != nil {
		return NewObjectError("put", m.loc.Bucket, full, translateMinioError(err))
	}

	m.logger.DebugContext(ctx, "uploaded object", "bucket", m.loc.Bucket, "key", full, "size", size)
	return nil
}

func translateMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return ErrObjectNotFound
	default:
		return err
	}
}
