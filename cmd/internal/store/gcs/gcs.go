package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const defaultListPageSize = 1000

// ObjectStoreGCS implements the object store interface for Google Cloud Storage
type ObjectStoreGCS struct {
	log    *slog.Logger
	c      *storage.Client
	config *ObjectStoreConfigGCS
}

// ObjectStoreConfigGCS provides configuration for the ObjectStoreGCS
type ObjectStoreConfigGCS struct {
	ProjectID string
	// CredentialsFile optionally points at a service account key, otherwise
	// application default credentials are used.
	CredentialsFile string
	ListPageSize    int
	ClientOpts      []option.ClientOption
}

func (c *ObjectStoreConfigGCS) validate() error {
	if c.ProjectID == "" {
		return errors.New("gcs project id must not be empty")
	}
	for _, opt := range c.ClientOpts {
		if opt == nil {
			return errors.New("option can not be nil")
		}
	}

	return nil
}

// New returns a GCS object store
func New(ctx context.Context, log *slog.Logger, config *ObjectStoreConfigGCS) (*ObjectStoreGCS, error) {
	if config == nil {
		return nil, errors.New("gcs object store requires a config")
	}

	if config.ListPageSize == 0 {
		config.ListPageSize = defaultListPageSize
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	opts := config.ClientOpts
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	return &ObjectStoreGCS{
		log:    log,
		c:      client,
		config: config,
	}, nil
}

// ListObjects returns one page of object keys below the prefix along with the
// page token of the next page
func (g *ObjectStoreGCS) ListObjects(ctx context.Context, bucket, prefix, token string) ([]string, string, error) {
	it := g.c.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var attrs []*storage.ObjectAttrs
	pager := iterator.NewPager(it, g.config.ListPageSize, token)
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return nil, "", fmt.Errorf("listing objects below %q: %w", prefix, err)
	}

	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		keys = append(keys, attr.Name)
	}

	return keys, next, nil
}

// DeleteObjects removes the given keys. GCS has no multi-object delete
// request, the batch is deleted object by object.
func (g *ObjectStoreGCS) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	var errs []error
	for _, key := range keys {
		err := g.c.Bucket(bucket).Object(key).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = append(errs, fmt.Errorf("deleting object %q: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// Upload stores the contents of r under the given key
func (g *ObjectStoreGCS) Upload(ctx context.Context, bucket, key string, r io.Reader) error {
	g.log.Debug("uploading object", "bucket", bucket, "key", key)

	w := g.c.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading %q: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing upload of %q: %w", key, err)
	}

	return nil
}
