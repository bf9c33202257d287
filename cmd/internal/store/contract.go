package store

import (
	"context"
	"io"
)

// ObjectStore is the client interface the backup and retention code runs
// against. Implementations exist for s3, gcs and a local filesystem.
type ObjectStore interface {
	// ListObjects returns one page of object keys below the given prefix
	// together with the continuation token for the next page. An empty token
	// result means the listing is exhausted.
	ListObjects(ctx context.Context, bucket string, prefix string, token string) (keys []string, nextToken string, err error)
	// DeleteObjects removes the given keys in a single batched request. The
	// caller has to chunk key sets larger than the store's batch cap.
	DeleteObjects(ctx context.Context, bucket string, keys []string) error
	// Upload stores the contents of r under the given key.
	Upload(ctx context.Context, bucket string, key string, r io.Reader) error
}
