package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/de-stash/dump2s3/cmd/internal/constants"
	"github.com/de-stash/dump2s3/cmd/internal/retention"
	"github.com/de-stash/dump2s3/cmd/internal/store"
	"golang.org/x/sync/errgroup"
)

// folderPattern matches the date segment directly below the destination
// prefix, applied after the prefix has been cut off the key.
var folderPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})/`)

// Config carries the run-scoped settings of a reconciliation. It is passed
// in explicitly so the reconciler stays testable with synthetic inputs.
type Config struct {
	Bucket string
	Prefix string
	// Workers bounds how many folders are deleted concurrently. The folders
	// are independent of each other, the default of 1 keeps deletion
	// sequential.
	Workers int
	// DryRun only reports what would be deleted.
	DryRun bool
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket must not be empty")
	}
	if c.Prefix == "" {
		return errors.New("destination prefix must not be empty")
	}
	return nil
}

// Result describes the outcome of one reconciliation run.
type Result struct {
	// Kept are the existing folders that are part of the keep set.
	Kept []string
	// Deleted are the folders that were removed (or would be, on a dry run).
	Deleted []string
	// Failed are the folders whose deletion reported an error.
	Failed []string
}

// Reconciler brings the dated backup folders in the bucket in line with a
// computed retention set by deleting every folder not contained in it.
type Reconciler struct {
	log    *slog.Logger
	store  store.ObjectStore
	config *Config
}

// New returns a reconciler working on the given object store.
func New(log *slog.Logger, s store.ObjectStore, config *Config) (*Reconciler, error) {
	if config == nil {
		return nil, errors.New("reconciler requires a config")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Reconciler{
		log:    log,
		store:  s,
		config: config,
	}, nil
}

// ListExistingFolders pages through the bucket listing below the destination
// prefix and returns the deduplicated, sorted set of dated folder names. The
// pagination loop is unbounded, listings of any size are walked to the end.
func (r *Reconciler) ListExistingFolders(ctx context.Context) ([]string, error) {
	var (
		folders = map[string]bool{}
		prefix  = r.config.Prefix + "/"
		token   = ""
	)

	for {
		keys, next, err := r.store.ListObjects(ctx, r.config.Bucket, prefix, token)
		if err != nil {
			return nil, fmt.Errorf("listing objects below %q: %w", prefix, err)
		}

		for _, key := range keys {
			rest, ok := strings.CutPrefix(key, prefix)
			if !ok {
				continue
			}
			if m := folderPattern.FindStringSubmatch(rest); m != nil {
				folders[m[1]] = true
			}
		}

		if next == "" {
			break
		}
		token = next
	}

	sorted := make([]string, 0, len(folders))
	for folder := range folders {
		sorted = append(sorted, folder)
	}
	sort.Strings(sorted)

	return sorted, nil
}

// Reconcile deletes every dated folder below the prefix whose date is not in
// the keep set. A failing listing aborts before anything is deleted because
// the remote state cannot be trusted. Failing folder deletions are collected
// and reported at the end while the remaining folders are still attempted.
func (r *Reconciler) Reconcile(ctx context.Context, keep *retention.Set) (*Result, error) {
	existing, err := r.ListExistingFolders(ctx)
	if err != nil {
		return nil, err
	}

	var (
		result   = &Result{}
		toDelete []string
	)
	for _, folder := range existing {
		if keep.Contains(folder) {
			result.Kept = append(result.Kept, folder)
			continue
		}
		toDelete = append(toDelete, folder)
	}

	r.log.Info("computed retention difference", "existing", len(existing), "keep", keep.Len(), "delete", len(toDelete))

	if r.config.DryRun {
		for _, folder := range toDelete {
			r.log.Info("would delete backup folder", "folder", folder)
		}
		result.Deleted = toDelete
		return result, nil
	}

	var (
		mtx  sync.Mutex
		errs []error
	)

	// deliberately no errgroup.WithContext: one failing folder must not
	// cancel the deletion of the others
	g := new(errgroup.Group)
	g.SetLimit(r.config.Workers)

	for _, folder := range toDelete {
		g.Go(func() error {
			deleted, err := r.deleteFolder(ctx, folder)

			mtx.Lock()
			defer mtx.Unlock()

			if err != nil {
				r.log.Error("unable to delete backup folder", "folder", folder, "error", err)
				result.Failed = append(result.Failed, folder)
				errs = append(errs, fmt.Errorf("deleting folder %q: %w", folder, err))
				return nil
			}

			r.log.Info("deleted backup folder", "folder", folder, "objects", deleted)
			result.Deleted = append(result.Deleted, folder)
			return nil
		})
	}

	_ = g.Wait()

	sort.Strings(result.Deleted)
	sort.Strings(result.Failed)

	return result, errors.Join(errs...)
}

// deleteFolder removes all objects below one dated folder, chunked into
// batched delete requests. A folder with no objects left is a no-op.
func (r *Reconciler) deleteFolder(ctx context.Context, folder string) (int, error) {
	var (
		prefix = path.Join(r.config.Prefix, folder) + "/"
		token  = ""
		keys   []string
	)

	for {
		page, next, err := r.store.ListObjects(ctx, r.config.Bucket, prefix, token)
		if err != nil {
			return 0, fmt.Errorf("listing objects below %q: %w", prefix, err)
		}
		keys = append(keys, page...)

		if next == "" {
			break
		}
		token = next
	}

	for batch := range slices.Chunk(keys, constants.DeleteBatchSize) {
		if err := r.store.DeleteObjects(ctx, r.config.Bucket, batch); err != nil {
			return 0, err
		}
	}

	return len(keys), nil
}
