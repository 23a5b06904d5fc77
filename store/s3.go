package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client the store uses. It allows for
// mocking in tests.
type S3API interface {
	// PutObject uploads an object to S3
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)

	// GetObject retrieves an object from S3
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Verify that the AWS S3 client implements our interface
var _ S3API = (*s3.Client)(nil)

// S3Store is a Store backed by Amazon S3.
type S3Store struct {
	client S3API
	loc    Location
	logger *slog.Logger
}

// NewS3 creates an S3Store. It loads AWS credentials using the default
// credential chain.
func NewS3(ctx context.Context, loc Location, o *Options) (*S3Store, error) {
	var cfgOpts []func(*config.LoadOptions) error
	if o.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(o.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, &Error{Op: "open", Bucket: loc.Bucket, Err: err}
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var s3Opts []func(*s3.Options)
	if o.ForcePathStyle {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.UsePathStyle = true
		})
	}
	if o.Endpoint != "" {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(o.Endpoint)
		})
	}

	return NewS3WithClient(s3.NewFromConfig(cfg, s3Opts...), loc, o.Logger), nil
}

// NewS3WithClient creates an S3Store around an existing client.
// This is primarily used for testing with mocked clients.
func NewS3WithClient(client S3API, loc Location, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &S3Store{client: client, loc: loc, logger: logger}
}

// Location implements Store.
func (s *S3Store) Location() Location {
	return s.loc
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, NewObjectError("get", s.loc.Bucket, key, err)
	}
	full := s.loc.Key(key)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.loc.Bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewObjectError("get", s.loc.Bucket, full, ErrObjectNotFound)
		}
		return nil, NewObjectError("get", s.loc.Bucket, full, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, NewObjectError("get", s.loc.Bucket, full, err)
	}
	return data, nil
}

// Put implements Store. Public objects are uploaded with the public-read
// canned ACL.
func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, opts ...PutOption) error {
	if err := validateKey(key); err != nil {
		return NewObjectError("put", s.loc.Bucket, key, err)
	}
	full := s.loc.Key(key)

	o, err := ApplyPutOptions(key, body, opts...)
	if err != nil {
		return NewObjectError("put", s.loc.Bucket, full, err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.loc.Bucket),
		Key:         aws.String(full),
		Body:        body,
		ContentType: aws.String(o.ContentType),
	}
	if o.PublicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return NewObjectError("put", s.loc.Bucket, full, err)
	}

	s.logger.DebugContext(ctx, "uploaded object", "url", s.loc.URL(key), "content_type", o.ContentType)
	return nil
}

// isS3NotFound converts the SDK's missing-object errors.
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}
