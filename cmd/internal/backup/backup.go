package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/de-stash/dump2s3/cmd/internal/compress"
	"github.com/de-stash/dump2s3/cmd/internal/constants"
	"github.com/de-stash/dump2s3/cmd/internal/database"
	"github.com/de-stash/dump2s3/cmd/internal/metrics"
	"github.com/de-stash/dump2s3/cmd/internal/reconcile"
	"github.com/de-stash/dump2s3/cmd/internal/retention"
	"github.com/de-stash/dump2s3/cmd/internal/store"
	"github.com/google/uuid"
	cron "github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

const probeAttempts = 10

// Config carries the run-scoped settings of the backup pipeline
type Config struct {
	Bucket     string
	Prefix     string
	StagingDir string
	// Clock provides the current time of a run, backups and the retention
	// decision both derive from it
	Clock func() time.Time
	FS    afero.Fs
}

// Backuper dumps all databases, uploads the compressed dumps to the object
// store and afterwards applies the retention policy
type Backuper struct {
	log        *slog.Logger
	db         database.Database
	store      store.ObjectStore
	comp       compress.Compressor
	metrics    *metrics.Metrics
	reconciler *reconcile.Reconciler
	config     *Config
	fs         afero.Fs
}

// New returns a backuper
func New(log *slog.Logger, db database.Database, s store.ObjectStore, comp compress.Compressor, m *metrics.Metrics, reconciler *reconcile.Reconciler, config *Config) *Backuper {
	if config.StagingDir == "" {
		config.StagingDir = constants.StagingDir
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	return &Backuper{
		log:        log,
		db:         db,
		store:      s,
		comp:       comp,
		metrics:    m,
		reconciler: reconciler,
		config:     config,
		fs:         config.FS,
	}
}

// Run performs one dump, upload and reconcile cycle. A failing upload of one
// database does not stop the remaining databases, the error surfaces in the
// returned error after everything was attempted.
func (b *Backuper) Run(ctx context.Context) error {
	var (
		log  = b.log.With("run", uuid.NewString())
		now  = b.config.Clock()
		date = now.Format(constants.DateFormat)
		tim  = now.Format(constants.TimeFormat)
	)

	err := retry.Do(func() error {
		return b.db.Probe(ctx)
	}, retry.Context(ctx), retry.Attempts(probeAttempts))
	if err != nil {
		b.metrics.CountError("probe")
		return fmt.Errorf("database did not become ready: %w", err)
	}

	databases, err := b.db.ListDatabases(ctx)
	if err != nil {
		b.metrics.CountError("list-databases")
		return fmt.Errorf("unable to list databases: %w", err)
	}
	log.Info("starting backup run", "databases", len(databases), "date", date, "time", tim)

	stagingDir := path.Join(b.config.StagingDir, date, tim)
	if err := b.fs.MkdirAll(stagingDir, 0777); err != nil {
		return fmt.Errorf("could not create staging directory: %w", err)
	}
	defer func() {
		if err := b.fs.RemoveAll(stagingDir); err != nil {
			log.Error("unable to clean up staging directory", "dir", stagingDir, "error", err)
		}
	}()

	failed := 0
	for _, name := range databases {
		if err := b.backupDatabase(ctx, log, name, stagingDir, date, tim); err != nil {
			log.Error("database backup failed", "database", name, "error", err)
			failed++
			continue
		}
		log.Info("uploaded database dump", "database", name)
		b.metrics.CountBackup()
	}

	result, reconcileErr := b.reconciler.Reconcile(ctx, retention.ComputeKeepDates(now))
	if reconcileErr != nil {
		b.metrics.CountError("reconcile")
		log.Error("retention cleanup incomplete", "error", reconcileErr)
	}
	if result != nil {
		b.metrics.CountDeletedFolders(len(result.Deleted))
		log.Info("applied retention policy", "kept", len(result.Kept), "deleted", len(result.Deleted), "failed", len(result.Failed))
	}

	b.metrics.SetSuccess(failed == 0 && reconcileErr == nil)

	if failed > 0 {
		return fmt.Errorf("%d of %d database backups failed", failed, len(databases))
	}

	return reconcileErr
}

func (b *Backuper) backupDatabase(ctx context.Context, log *slog.Logger, name, stagingDir, date, tim string) error {
	filename := name + ".sql" + b.comp.Extension()
	stagePath := path.Join(stagingDir, filename)

	f, err := b.fs.Create(stagePath)
	if err != nil {
		return fmt.Errorf("could not create staging file: %w", err)
	}

	// the dump is compressed while it streams out of the dump command, the
	// plain dump never touches the disk
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(b.db.Dump(ctx, name, pw))
	}()

	if err := b.comp.Compress(pr, f); err != nil {
		_ = f.Close()
		b.metrics.CountError("dump")
		return fmt.Errorf("dumping %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	r, err := b.fs.Open(stagePath)
	if err != nil {
		return fmt.Errorf("could not open staging file: %w", err)
	}
	defer r.Close()

	key := path.Join(b.config.Prefix, date, tim, filename)
	if err := b.store.Upload(ctx, b.config.Bucket, key, r); err != nil {
		b.metrics.CountError("upload")
		return fmt.Errorf("uploading %q: %w", key, err)
	}

	if err := b.fs.Remove(stagePath); err != nil {
		log.Error("unable to remove staged dump", "path", stagePath, "error", err)
	}

	return nil
}

// Start runs backups periodically until the context is done
func (b *Backuper) Start(ctx context.Context, schedule string) error {
	c := cron.New()

	id, err := c.AddFunc(schedule, func() {
		if err := b.Run(ctx); err != nil {
			b.log.Error("scheduled backup run failed", "error", err)
		}
		for _, e := range c.Entries() {
			b.log.Info("scheduling next backup", "at", e.Next.String())
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	b.log.Info("scheduling next backup", "at", c.Entry(id).Next.String())
	<-ctx.Done()
	c.Stop()

	return nil
}
