package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore is a filesystem-backed ObjectStore for local runs: keys map to
// paths under root, writes are atomic (temp file + rename) and returned URLs
// use the file scheme so downstream consumers can still fetch them.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve object store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FSStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".obj-tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("store object %s: %w", key, err)
	}
	return "file://" + path, nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	base := s.path(prefix)
	// A directory-shaped prefix removes the whole subtree.
	if strings.HasSuffix(prefix, "/") {
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				deleted++
			}
			return nil
		})
		if os.IsNotExist(err) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("scan prefix %s: %w", prefix, err)
		}
		if err := os.RemoveAll(base); err != nil {
			return 0, fmt.Errorf("delete prefix %s: %w", prefix, err)
		}
		return deleted, nil
	}

	dir := filepath.Dir(base)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan prefix %s: %w", prefix, err)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), filepath.Base(base)) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return deleted, fmt.Errorf("delete prefix %s: %w", prefix, err)
		}
		deleted++
	}
	return deleted, nil
}

var _ ObjectStore = (*FSStore)(nil)
