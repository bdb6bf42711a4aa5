// Package storage provides object storage for generated artifacts and tree
// snapshots, plus the production repository with hash-based optimistic
// locking.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the object store.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a minimal blob interface: S3/R2 in production, in-memory in
// tests. Put returns the public URL for the stored object.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (publicURL string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under the prefix; used by production
	// deletion to drop all artifacts at once.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
