package store

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// LocalStore is a Store rooted at a directory of a billy filesystem. It
// serves dry runs and mirrors published through a shared filesystem. Access
// policies do not apply and PublicRead is ignored.
type LocalStore struct {
	loc    Location
	fs     billy.Filesystem
	logger *slog.Logger
}

// NewLocal creates a LocalStore. A nil filesystem means the OS filesystem.
func NewLocal(loc Location, filesystem billy.Filesystem, logger *slog.Logger) *LocalStore {
	if filesystem == nil {
		filesystem = osfs.New("")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalStore{loc: loc, fs: filesystem, logger: logger}
}

// Location implements Store.
func (l *LocalStore) Location() Location {
	return l.loc
}

func (l *LocalStore) path(key string) string {
	return l.fs.Join(l.loc.Bucket, filepath.FromSlash(l.loc.Key(key)))
}

// Get implements Store.
func (l *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, NewObjectError("get", l.loc.Bucket, key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := util.ReadFile(l.fs, l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewObjectError("get", l.loc.Bucket, l.loc.Key(key), ErrObjectNotFound)
		}
		return nil, NewObjectError("get", l.loc.Bucket, l.loc.Key(key), err)
	}
	return data, nil
}

// Put implements Store. The object is written to a temporary file and
// renamed into place so readers never observe a partial object.
func (l *LocalStore) Put(ctx context.Context, key string, body io.ReadSeeker, _ ...PutOption) error {
	if err := validateKey(key); err != nil {
		return NewObjectError("put", l.loc.Bucket, key, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := l.path(key)
	dir := filepath.Dir(dst)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return NewObjectError("put", l.loc.Bucket, l.loc.Key(key), err)
	}

	tmp, err := l.fs.TempFile(dir, ".upload-")
	if err != nil {
		return NewObjectError("put", l.loc.Bucket, l.loc.Key(key), err)
	}
	defer func() {
		_ = l.fs.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return NewObjectError("put", l.loc.Bucket, l.loc.Key(key), err)
	}
	if err := tmp.Close(); err != nil {
		return NewObjectError("put", l.loc.Bucket, l.loc.Key(key), err)
	}
	if err := l.fs.Rename(tmp.Name(), dst); err != nil {
		return NewObjectError("put", l.loc.Bucket, l.loc.Key(key), err)
	}

	l.logger.DebugContext(ctx, "wrote object", "path", dst)
	return nil
}
