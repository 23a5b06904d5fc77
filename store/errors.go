package store

import (
	"errors"
	"fmt"
)

// Error represents a store operation error with context about the object
// involved. It wraps the underlying backend error.
type Error struct {
	// Op is the operation that failed (e.g., "get", "put").
	Op string

	// Bucket is the bucket or root the operation addressed.
	Bucket string

	// Key is the object key (if applicable).
	Key string

	// Err is the underlying error from the backend.
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("store.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("store.%s object %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewObjectError creates a new Error with bucket and key context.
func NewObjectError(op, bucket, key string, err error) *Error {
	return &Error{
		Op:     op,
		Bucket: bucket,
		Key:    key,
		Err:    err,
	}
}

// Sentinel errors for common store failures.
var (
	// ErrObjectNotFound indicates that the requested object does not exist.
	ErrObjectNotFound = errors.New("store: object not found")

	// ErrInvalidLocation indicates that a bucket URL cannot be parsed.
	ErrInvalidLocation = errors.New("store: invalid location")

	// ErrUnsupportedScheme indicates that no backend serves the URL scheme.
	ErrUnsupportedScheme = errors.New("store: unsupported scheme")

	// ErrInvalidKey indicates that an object key is empty or escapes its root.
	ErrInvalidKey = errors.New("store: invalid object key")
)

// IsObjectNotFound checks if an error indicates that an object was not found.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
