package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/exp/mmap"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Sink stores encoded snapshots by name
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// FileSink keeps snapshots in a local directory
type FileSink struct {
	dir string
}

// NewFileSink creates the directory if needed
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (f *FileSink) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(f.dir, name), nil
}

// Write stores data atomically through a temp file and rename
func (f *FileSink) Write(ctx context.Context, name string, data []byte) error {
	path, err := f.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Read maps the file and copies it out
func (f *FileSink) Read(ctx context.Context, name string) ([]byte, error) {
	path, err := f.path(name)
	if err != nil {
		return nil, err
	}

	r, err := mmap.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer r.Close()

	data := make([]byte, r.Len())
	if _, err := r.ReadAt(data, 0); err != nil && len(data) > 0 {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// List returns snapshot names, sorted
func (f *FileSink) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".snap") && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
