package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore reads objects from a local directory. Paths cannot escape it.
type FSStore struct {
	root *os.Root
	dir  string
}

// NewFSStore opens dir as the storage root.
func NewFSStore(dir string) (*FSStore, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage directory %s: %w", dir, err)
	}
	return &FSStore{root: root, dir: dir}, nil
}

func (s *FSStore) Name() string {
	return BackendFS
}

// Dir returns the storage directory.
func (s *FSStore) Dir() string {
	return s.dir
}

func (s *FSStore) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	data, err := readAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Close releases the directory handle.
func (s *FSStore) Close() error {
	return s.root.Close()
}
