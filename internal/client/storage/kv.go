// Package storage provides the durable key/value layer under the local store.
package storage

import (
	"context"
)

// KV is a flat key/value namespace. Get returns (nil, nil) for a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
