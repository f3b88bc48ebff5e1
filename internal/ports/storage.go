package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	// Size is a hint; -1 when unknown.
	Size int64
}

type PutObjectOutput struct {
	// ObjectKey is the key to read the object back with. localfs echoes the
	// input key, gdrive returns the Drive file id.
	ObjectKey string
	Size      int64
}

// StorageProvider stores rendered artifacts (localfs, gdrive).
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// HealthChecker is implemented by providers that can verify connectivity.
type HealthChecker interface {
	Check(ctx context.Context) error
}
