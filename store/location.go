package store

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Supported bucket URL schemes.
const (
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
	SchemeMinio = "minio"
	SchemeFile  = "file"
)

// Location is a parsed bucket URL.
type Location struct {
	// Scheme selects the backend.
	Scheme string

	// Endpoint is the host[:port] of a MinIO server.
	Endpoint string

	// Bucket is the bucket name, or the root directory for file locations.
	Bucket string

	// Prefix is prepended to every key.
	Prefix string
}

// ParseLocation parses bucket URLs of the forms
//
//	s3://bucket[/prefix]
//	gs://bucket[/prefix]
//	minio://host[:port]/bucket[/prefix]
//	file:///absolute/dir
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: %v", ErrInvalidLocation, raw, err)
	}

	trimmed := strings.Trim(u.Path, "/")
	loc := Location{Scheme: u.Scheme}

	switch u.Scheme {
	case SchemeS3, SchemeGCS:
		loc.Bucket = u.Host
		loc.Prefix = trimmed
	case SchemeMinio:
		loc.Endpoint = u.Host
		loc.Bucket, loc.Prefix, _ = strings.Cut(trimmed, "/")
		if loc.Endpoint == "" {
			return Location{}, fmt.Errorf("%w: %q: missing endpoint", ErrInvalidLocation, raw)
		}
	case SchemeFile:
		if u.Host != "" {
			return Location{}, fmt.Errorf("%w: %q: file URLs must be absolute", ErrInvalidLocation, raw)
		}
		loc.Bucket = path.Clean(u.Path)
	case "":
		return Location{}, fmt.Errorf("%w: %q: missing scheme", ErrInvalidLocation, raw)
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if loc.Bucket == "" || loc.Bucket == "." {
		return Location{}, fmt.Errorf("%w: %q: missing bucket", ErrInvalidLocation, raw)
	}
	return loc, nil
}

// Key joins the location prefix and key.
func (l Location) Key(key string) string {
	if l.Prefix == "" {
		return key
	}
	return l.Prefix + "/" + key
}

// String renders the location back as a URL.
func (l Location) String() string {
	switch l.Scheme {
	case SchemeFile:
		return "file://" + l.Bucket
	case SchemeMinio:
		return strings.TrimSuffix(fmt.Sprintf("minio://%s/%s/%s", l.Endpoint, l.Bucket, l.Prefix), "/")
	default:
		return strings.TrimSuffix(fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Prefix), "/")
	}
}

// URL returns the full URL of key within the location.
func (l Location) URL(key string) string {
	return l.String() + "/" + key
}

// validateKey rejects keys that are empty or escape the location root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return ErrInvalidKey
		}
	}
	return nil
}
