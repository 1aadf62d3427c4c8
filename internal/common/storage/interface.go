package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores run source snapshots.
type ObjectStorage interface {
	// PutObject uploads size bytes from r.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error

	// GetObject returns the object body and its metadata. Caller closes the body.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
}

// PutOptions describe an upload. Metadata keys are stored as user metadata.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo is the metadata returned with an object.
type ObjectInfo struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}
