package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	defaultBasePath     = "/var/lib/dump2s3"
	defaultListPageSize = 1000
)

// ObjectStoreLocal implements the object store interface on a local
// filesystem (useful for development environments and tests)
type ObjectStoreLocal struct {
	fs     afero.Fs
	log    *slog.Logger
	config *ObjectStoreConfigLocal
}

// ObjectStoreConfigLocal provides configuration for the ObjectStoreLocal
type ObjectStoreConfigLocal struct {
	BasePath     string
	ListPageSize int
	FS           afero.Fs
}

// New returns a local object store
func New(log *slog.Logger, config *ObjectStoreConfigLocal) (*ObjectStoreLocal, error) {
	if config == nil {
		return nil, errors.New("local object store requires a config")
	}

	if config.BasePath == "" {
		config.BasePath = defaultBasePath
	}
	if config.ListPageSize == 0 {
		config.ListPageSize = defaultListPageSize
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	return &ObjectStoreLocal{
		fs:     config.FS,
		log:    log,
		config: config,
	}, nil
}

func (l *ObjectStoreLocal) bucketPath(bucket string) string {
	return filepath.Join(l.config.BasePath, bucket)
}

// ListObjects returns one page of object keys below the prefix. The
// continuation token is the offset into the sorted key list.
func (l *ObjectStoreLocal) ListObjects(_ context.Context, bucket, prefix, token string) ([]string, string, error) {
	root := l.bucketPath(bucket)

	var keys []string
	err := afero.Walk(l.fs, root, func(p string, info iofs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		key := filepath.ToSlash(strings.TrimPrefix(p, root+string(filepath.Separator)))
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("walking %q: %w", root, err)
	}
	sort.Strings(keys)

	start := 0
	if token != "" {
		start, err = strconv.Atoi(token)
		if err != nil || start < 0 || start > len(keys) {
			return nil, "", fmt.Errorf("invalid continuation token %q", token)
		}
	}

	end := min(start+l.config.ListPageSize, len(keys))
	next := ""
	if end < len(keys) {
		next = strconv.Itoa(end)
	}

	return keys[start:end], next, nil
}

// DeleteObjects removes the given keys, keys that are already gone are skipped
func (l *ObjectStoreLocal) DeleteObjects(_ context.Context, bucket string, keys []string) error {
	var errs []error
	for _, key := range keys {
		err := l.fs.Remove(filepath.Join(l.bucketPath(bucket), filepath.FromSlash(key)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("deleting object %q: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// Upload stores the contents of r under the given key
func (l *ObjectStoreLocal) Upload(_ context.Context, bucket, key string, r io.Reader) error {
	l.log.Debug("uploading object", "bucket", bucket, "key", key)

	target := filepath.Join(l.bucketPath(bucket), filepath.FromSlash(key))
	if err := l.fs.MkdirAll(filepath.Dir(target), 0777); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	f, err := l.fs.Create(target)
	if err != nil {
		return fmt.Errorf("creating object %q: %w", key, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing object %q: %w", key, err)
	}

	return f.Close()
}
