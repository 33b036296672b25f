// Package fs stores blob payloads as files on an afero.Fs: the OS filesystem
// in production (a cache directory), an in-memory filesystem in tests.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/unkn0wn-root/fieldsync/blobstore"
	"github.com/unkn0wn-root/fieldsync/internal/keys"
)

// Store writes each payload to <dir>/<ab>/<sha256(url)>. Writes go to a temp
// file first and are renamed into place so a crash never leaves a torn payload
// under the final name.
type Store struct {
	fs  afero.Fs
	dir string
}

var (
	_ blobstore.Store  = (*Store)(nil)
	_ blobstore.Purger = (*Store)(nil)
)

func New(fsys afero.Fs, dir string) (*Store, error) {
	if fsys == nil {
		return nil, errors.New("blobstore/fs: nil filesystem")
	}
	if dir == "" {
		return nil, errors.New("blobstore/fs: directory is required")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{fs: fsys, dir: dir}, nil
}

// NewOS is New over the real filesystem.
func NewOS(dir string) (*Store, error) { return New(afero.NewOsFs(), dir) }

func (s *Store) path(url string) string {
	d := keys.Digest(url)
	return path.Join(s.dir, d[:2], d)
}

func (s *Store) Get(_ context.Context, url string) ([]byte, bool, error) {
	b, err := afero.ReadFile(s.fs, s.path(url))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read blob: %w", err)
	}
	return b, true, nil
}

func (s *Store) Set(_ context.Context, url string, payload []byte) error {
	p := s.path(url)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create blob shard: %w", err)
	}
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

func (s *Store) Del(_ context.Context, url string) error {
	err := s.fs.Remove(s.path(url))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Purge removes every payload under the directory and leaves it empty.
func (s *Store) Purge(context.Context) error {
	if err := s.fs.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("purge blobs: %w", err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	return nil
}

func (s *Store) Close(context.Context) error { return nil }
