package storage

import "context"

// BlobStore is a flat key/value object store.
// Get returns an error wrapping ErrNotFound for a missing key.
// List returns keys under prefix in lexical order.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
