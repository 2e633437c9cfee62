package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const tempPrefix = ".blobgate-put-"

// DiskStore implements Store with one file per key, directly under a root
// directory which must exist. The key is the file name. Writes go to a
// temporary file in the same directory which is then renamed over the target,
// so readers see either the old or the new value. Keys starting with the
// temporary files' prefix are refused, and so are keys too long to be file
// names.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Dir returns the root directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Put(ctx context.Context, key string, value []byte) (err error) {
	valpath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("could not create temporary file for %q: %w", valpath, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(value); err != nil {
		return fmt.Errorf("could not write %q: %w", f.Name(), err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("could not sync %q: %w", f.Name(), err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("could not close %q: %w", f.Name(), err)
	}
	if err = os.Rename(f.Name(), valpath); err != nil {
		return s.classify(key, fmt.Errorf("could not rename %q to %q: %w", f.Name(), valpath, err))
	}
	return nil
}

func (s *DiskStore) Get(ctx context.Context, key string) (value []byte, err error) {
	valpath, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	value, err = os.ReadFile(valpath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, s.classify(key, fmt.Errorf("could not read %q: %w", valpath, err))
	}
	return value, nil
}

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	valpath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(valpath); err != nil && !os.IsNotExist(err) {
		return s.classify(key, fmt.Errorf("could not remove %q: %w", valpath, err))
	}
	return nil
}

func (s *DiskStore) pathFor(key string) (string, error) {
	if err := CheckKey(key); err != nil {
		return "", err
	}
	if strings.HasPrefix(key, tempPrefix) {
		return "", fmt.Errorf("%.40q: reserved: %w", key, ErrInvalidKey)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *DiskStore) classify(key string, err error) error {
	if errors.Is(err, unix.ENAMETOOLONG) {
		return fmt.Errorf("%.40q is too long for a file name: %v: %w", key, err, ErrInvalidKey)
	}
	return err
}
