package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMinioClient struct {
	PutObjectFunc func(bucket, key string, data []byte, size int64, opts minio.PutObjectOptions) error
}

func (m *mockMinioClient) GetObject(
	context.Context, string, string, minio.GetObjectOptions,
) (*minio.Object, error) {
	return nil, minio.ErrorResponse{Code: "NoSuchKey"}
}

func (m *mockMinioClient) PutObject(
	_ context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if m.PutObjectFunc != nil {
		if err := m.PutObjectFunc(bucket, key, data, size, opts); err != nil {
			return minio.UploadInfo{}, err
		}
	}
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func minioLocation() Location {
	return Location{Scheme: SchemeMinio, Endpoint: "localhost:9000", Bucket: "releases", Prefix: "cdn"}
}

func TestMinioPut(t *testing.T) {
	var gotKey string
	var gotSize int64
	var gotOpts minio.PutObjectOptions
	var gotData []byte
	client := &mockMinioClient{
		PutObjectFunc: func(bucket, key string, data []byte, size int64, opts minio.PutObjectOptions) error {
			assert.Equal(t, "releases", bucket)
			gotKey, gotData, gotSize, gotOpts = key, data, size, opts
			return nil
		},
	}
	st := NewMinioWithClient(client, minioLocation(), nil)

	body := bytes.NewReader([]byte(`{"1.0.0":{}}`))
	// A partially read body is rewound before upload.
	_, _ = body.Seek(3, io.SeekStart)

	require.NoError(t, st.Put(context.Background(), "binaries/steward/versions.json", body, WithPublicRead()))
	assert.Equal(t, "cdn/binaries/steward/versions.json", gotKey)
	assert.Equal(t, int64(12), gotSize)
	assert.Equal(t, `{"1.0.0":{}}`, string(gotData))
	assert.Equal(t, "application/json", gotOpts.ContentType)
	assert.Equal(t, "public-read", gotOpts.UserMetadata["x-amz-acl"])
}

func TestMinioPutPrivate(t *testing.T) {
	var gotOpts minio.PutObjectOptions
	client := &mockMinioClient{
		PutObjectFunc: func(_, _ string, _ []byte, _ int64, opts minio.PutObjectOptions) error {
			gotOpts = opts
			return nil
		},
	}
	st := NewMinioWithClient(client, minioLocation(), nil)

	require.NoError(t, st.Put(context.Background(), "notes.txt", bytes.NewReader([]byte("x"))))
	assert.Empty(t, gotOpts.UserMetadata)
}

func TestMinioPutError(t *testing.T) {
	client := &mockMinioClient{
		PutObjectFunc: func(string, string, []byte, int64, minio.PutObjectOptions) error {
			return errors.New("connection reset")
		},
	}
	st := NewMinioWithClient(client, minioLocation(), nil)

	err := st.Put(context.Background(), "a.bin", bytes.NewReader([]byte("x")))
	require.Error(t, err)

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "put", storeErr.Op)
	assert.Equal(t, "cdn/a.bin", storeErr.Key)
}

func TestMinioGetMissing(t *testing.T) {
	st := NewMinioWithClient(&mockMinioClient{}, minioLocation(), nil)

	_, err := st.Get(context.Background(), "binaries/steward/versions.json")
	assert.True(t, IsObjectNotFound(err))
}

func TestTranslateMinioError(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NotFound"} {
		assert.ErrorIs(t, translateMinioError(minio.ErrorResponse{Code: code}), ErrObjectNotFound, code)
	}

	for _, code := range []string{"NoSuchBucket", "AccessDenied"} {
		other := minio.ErrorResponse{Code: code}
		assert.Equal(t, error(other), translateMinioError(other), code)
		assert.NotErrorIs(t, translateMinioError(other), ErrObjectNotFound, code)
	}
}
