// Package file implements a gridkit.SegmentStore backed by the local
// filesystem. Segments land at <root>/<entity>/<partition>/<name>, written
// through a temp file and renamed into place so readers never observe a
// partial segment.
package file

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store writes segments under a root directory.
type Store struct {
	root    string
	dirMode os.FileMode
}

// StoreOption is a functional option for the file Store.
type StoreOption func(s *Store) error

// OptStoreDirMode sets the permission bits used when creating partition
// directories. Defaults to 0755.
func OptStoreDirMode(mode os.FileMode) StoreOption {
	return func(s *Store) error {
		s.dirMode = mode
		return nil
	}
}

// NewStore returns a Store rooted at the given directory, creating it if
// necessary.
func NewStore(root string, opts ...StoreOption) (*Store, error) {
	if root == "" {
		return nil, errors.New("root directory is required")
	}
	s := &Store{
		root:    root,
		dirMode: 0755,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	if err := os.MkdirAll(s.root, s.dirMode); err != nil {
		return nil, errors.Wrap(err, "creating root directory")
	}
	return s, nil
}

// Put writes data to <root>/<entity>/<partition>/<name>, replacing any
// existing segment of the same name. The data is staged in a temp file in the
// destination directory and fsynced before the rename, so a crash leaves
// either the old segment or the new one, never a torn file.
func (s *Store) Put(ctx context.Context, entity, partition, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.root, entity, partition)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return errors.Wrapf(err, "creating partition directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, name+".tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "syncing %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp.Name())
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrapf(err, "renaming into %s", dst)
	}
	return nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }
