// Package filestore defines the interface to the stores bulk data files
// are read from when a freshly created table is populated.
//
// Providers (local directory, MinIO) implement Store. Callers depend only
// on this package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.MinIOConfig("localhost:9000", "minioadmin", "minioadmin", "seed")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	obj, err := store.GetObject(ctx, cfg.Bucket, "nodes.json")
package filestore

import "context"

// Store is the single interface all file storage providers must implement.
// It is scoped to read operations.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// StatObject returns metadata for the object at key inside bucket
	// without downloading its content.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
}
