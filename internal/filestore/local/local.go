// Package local provides a filestore.Store backed by a directory on the
// local filesystem.
package local

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/filestore"
)

// Store reads objects from Root/bucket/key. It is safe for concurrent use.
type Store struct {
	root string
}

// New returns a Store rooted at cfg.Root and pings it.
func New(cfg *filestore.Config) (*Store, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid data file root", err)
	}
	s := &Store{root: abs}
	if err := s.Ping(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping checks that the root directory exists.
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return mapError(err, "data file root unavailable")
	}
	if !info.IsDir() {
		return errs.Newf(errs.ErrKindInvalidInput, "data file root %s is not a directory", s.root)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// GetObject opens the file at key inside bucket.
func (s *Store) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, mapError(err, "failed to open data file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mapError(err, "failed to stat data file")
	}
	return &object{File: f, info: toInfo(key, info)}, nil
}

// StatObject returns metadata for the file at key inside bucket.
func (s *Store) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, mapError(err, "failed to stat data file")
	}
	return toInfo(key, info), nil
}

// resolve joins bucket and key under the root, refusing paths that
// escape it.
func (s *Store) resolve(bucket, key string) (string, error) {
	path := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.Newf(errs.ErrKindInvalidInput, "data file %q is outside %s", key, s.root)
	}
	return path, nil
}

func toInfo(key string, info fs.FileInfo) *filestore.ObjectInfo {
	return &filestore.ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(key)),
		LastModified: info.ModTime(),
	}
}

func mapError(err error, msg string) *errs.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case errors.Is(err, fs.ErrPermission):
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	default:
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}
}

type object struct {
	*os.File
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo { return o.info }
