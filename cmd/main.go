package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/de-stash/dump2s3/cmd/internal/backup"
	"github.com/de-stash/dump2s3/cmd/internal/compress"
	"github.com/de-stash/dump2s3/cmd/internal/constants"
	"github.com/de-stash/dump2s3/cmd/internal/database"
	"github.com/de-stash/dump2s3/cmd/internal/database/mysql"
	"github.com/de-stash/dump2s3/cmd/internal/metrics"
	"github.com/de-stash/dump2s3/cmd/internal/reconcile"
	"github.com/de-stash/dump2s3/cmd/internal/retention"
	"github.com/de-stash/dump2s3/cmd/internal/store"
	"github.com/de-stash/dump2s3/cmd/internal/store/gcs"
	"github.com/de-stash/dump2s3/cmd/internal/store/local"
	"github.com/de-stash/dump2s3/cmd/internal/store/s3"
	"github.com/de-stash/dump2s3/cmd/internal/utils"
	"github.com/metal-stack/v"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	moduleName  = "dump2s3"
	cfgFileType = "yaml"

	// Flags
	logLevelFlg = "log-level"

	bucketFlg  = "bucket"
	destFlg    = "dest"
	storeFlg   = "store"
	workersFlg = "workers"
	dryRunFlg  = "dry-run"
	dateFlg    = "date"
	outputFlg  = "output"

	awsProfileFlg  = "aws-profile"
	s3RegionFlg    = "s3-region"
	s3EndpointFlg  = "s3-endpoint"
	s3AccessKeyFlg = "s3-access-key"
	//nolint
	s3SecretKeyFlg = "s3-secret-key"

	gcpProjectFlg     = "gcp-project"
	gcpCredentialsFlg = "gcp-credentials-file"

	localStorePathFlg = "local-store-path"

	mysqlUserFlg     = "mysql-user"
	mysqlHostFlg     = "mysql-host"
	mysqlPortFlg     = "mysql-port"
	mysqlPasswordFlg = "mysql-password"
	excludeFlg       = "exclude"

	scheduleFlg    = "schedule"
	metricsAddrFlg = "metrics-addr"
)

var (
	cfgFile string
	logger  *slog.Logger
	db      database.Database
	st      store.ObjectStore
	stop    context.Context
)

var rootCmd = &cobra.Command{
	Use:          moduleName,
	Short:        "backs up MySQL/MariaDB databases to an object store with a GFS retention policy",
	Version:      v.V.String(),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initLogging(); err != nil {
			return err
		}
		initConfig()
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "dumps all databases, uploads them and applies the retention policy once",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		initSignalHandlers()
		initDatabase()
		return initObjectStore()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBackuper(metrics.New())
		if err != nil {
			return err
		}

		if err := b.Run(stop); err != nil {
			return err
		}

		if viper.GetBool(outputFlg) {
			fmt.Printf("Well done for %s/%s\n", viper.GetString(bucketFlg), viper.GetString(destFlg))
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "runs backups periodically on a cron schedule",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		initSignalHandlers()
		initDatabase()
		return initObjectStore()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		m := metrics.New()

		b, err := newBackuper(m)
		if err != nil {
			return err
		}

		m.Start(logger.With("component", "metrics"), viper.GetString(metricsAddrFlg))

		return b.Start(stop, viper.GetString(scheduleFlg))
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "applies the retention policy without taking a backup",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		initSignalHandlers()
		return initObjectStore()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		today, err := referenceDate()
		if err != nil {
			return err
		}

		r, err := reconcile.New(logger.With("component", "reconcile"), st, &reconcile.Config{
			Bucket:  viper.GetString(bucketFlg),
			Prefix:  viper.GetString(destFlg),
			Workers: viper.GetInt(workersFlg),
			DryRun:  viper.GetBool(dryRunFlg),
		})
		if err != nil {
			return err
		}

		result, err := r.Reconcile(stop, retention.ComputeKeepDates(today))
		if err != nil {
			return err
		}

		logger.Info("reconciliation done", "kept", len(result.Kept), "deleted", len(result.Deleted))
		return nil
	},
}

var showRetentionCmd = &cobra.Command{
	Use:     "show-retention",
	Aliases: []string{"retention"},
	Short:   "prints the dates whose backups survive the retention policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		today, err := referenceDate()
		if err != nil {
			return err
		}

		var data [][]string
		for _, d := range retention.Daily(today) {
			data = append(data, []string{"daily", d.Format(constants.DateFormat)})
		}
		weekly := retention.Weekly(today)
		for _, d := range weekly {
			data = append(data, []string{"weekly", d.Format(constants.DateFormat)})
		}
		for _, d := range retention.Monthly(weekly[len(weekly)-1]) {
			data = append(data, []string{"monthly", d.Format(constants.DateFormat)})
		}

		p := utils.NewTablePrinter(os.Stdout)
		return p.Print([]string{"Tier", "Keep"}, data)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			panic(err)
		}
		logger.Error("failed executing root command", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(backupCmd, startCmd, reconcileCmd, showRetentionCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringP(logLevelFlg, "", "info", "sets the application log level")
	rootCmd.PersistentFlags().StringP(bucketFlg, "b", "", "destination bucket")
	rootCmd.PersistentFlags().StringP(destFlg, "d", constants.DefaultDestPrefix, "destination folder in the bucket")
	rootCmd.PersistentFlags().StringP(storeFlg, "", "s3", "the object store to use [s3|gcs|local]")
	rootCmd.PersistentFlags().StringP(dateFlg, "", "", "reference date for the retention policy (YYYY-MM-DD, default: today)")

	rootCmd.PersistentFlags().StringP(awsProfileFlg, "p", "", "aws credentials profile to use")
	rootCmd.PersistentFlags().StringP(s3RegionFlg, "", "", "the region of the s3 bucket")
	rootCmd.PersistentFlags().StringP(s3EndpointFlg, "", "", "url of an s3-compatible endpoint (optional)")
	rootCmd.PersistentFlags().StringP(s3AccessKeyFlg, "", "", "the s3 access-key-id")
	rootCmd.PersistentFlags().StringP(s3SecretKeyFlg, "", "", "the s3 secret-key-id")

	rootCmd.PersistentFlags().StringP(gcpProjectFlg, "", "", "the project id of the gcs bucket")
	rootCmd.PersistentFlags().StringP(gcpCredentialsFlg, "", "", "path of a gcp service account key file (optional)")

	rootCmd.PersistentFlags().StringP(localStorePathFlg, "", "", "base path of the local object store")

	// flags shared between subcommands are registered exactly once on the
	// root command: viper keeps only the last binding per key, a second
	// registration under the same name would shadow the first one
	rootCmd.PersistentFlags().StringP(mysqlUserFlg, "u", "root", "the mysql database user")
	rootCmd.PersistentFlags().StringP(mysqlHostFlg, "", "127.0.0.1", "the mysql database address")
	rootCmd.PersistentFlags().IntP(mysqlPortFlg, "", 3306, "the mysql database port")
	rootCmd.PersistentFlags().StringP(mysqlPasswordFlg, "", "", "the mysql database password")
	rootCmd.PersistentFlags().StringSliceP(excludeFlg, "e", constants.DefaultExcludedDatabases, "databases to exclude from the backup")
	rootCmd.PersistentFlags().IntP(workersFlg, "", 1, "number of folders deleted concurrently during retention")

	err := viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		fmt.Printf("unable to construct root command: %v", err)
		os.Exit(1)
	}

	backupCmd.Flags().BoolP(outputFlg, "o", false, "output success message if the run succeeded")

	startCmd.Flags().StringP(scheduleFlg, "", "0 2 * * *", "cron schedule for taking backups periodically")
	startCmd.Flags().StringP(metricsAddrFlg, "", "127.0.0.1:2112", "the bind address of the metrics server")

	reconcileCmd.Flags().BoolP(dryRunFlg, "", false, "only print what would be deleted")

	for _, cmd := range []*cobra.Command{backupCmd, startCmd, reconcileCmd} {
		err = viper.BindPFlags(cmd.Flags())
		if err != nil {
			fmt.Printf("unable to construct %s command: %v", cmd.Use, err)
			os.Exit(1)
		}
	}
}

func initConfig() {
	viper.SetEnvPrefix("DUMP2S3")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType(cfgFileType)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			logger.Error("config file path set explicitly, but unreadable", "error", err)
			os.Exit(1)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("/etc/" + moduleName)
		viper.AddConfigPath("$HOME/." + moduleName)
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			usedCfg := viper.ConfigFileUsed()
			if usedCfg != "" {
				logger.Error("config file unreadable", "config-file", usedCfg, "error", err)
				os.Exit(1)
			}
		}
	}

	usedCfg := viper.ConfigFileUsed()
	if usedCfg != "" {
		logger.Info("read config file", "config-file", usedCfg)
	}
}

func initLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString(logLevelFlg))); err != nil {
		return fmt.Errorf("can't initialize logger: %w", err)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	return nil
}

func initSignalHandlers() {
	stop, _ = signal.NotifyContext(context.Background(), os.Interrupt)
}

func initDatabase() {
	db = mysql.New(
		logger.With("component", "mysql"),
		viper.GetString(mysqlHostFlg),
		viper.GetInt(mysqlPortFlg),
		viper.GetString(mysqlUserFlg),
		viper.GetString(mysqlPasswordFlg),
		viper.GetStringSlice(excludeFlg),
	)

	logger.Info("initialized database adapter", "type", "mysql")
}

func initObjectStore() error {
	if viper.GetString(bucketFlg) == "" {
		return fmt.Errorf("bucket (%s) must be set", bucketFlg)
	}

	var (
		stString = viper.GetString(storeFlg)
		log      = logger.With("component", "store")
		err      error
	)

	switch stString {
	case "s3":
		var s3Store *s3.ObjectStoreS3
		s3Store, err = s3.New(
			context.Background(),
			log,
			&s3.ObjectStoreConfigS3{
				Profile:   viper.GetString(awsProfileFlg),
				AccessKey: viper.GetString(s3AccessKeyFlg),
				SecretKey: viper.GetString(s3SecretKeyFlg),
				Region:    viper.GetString(s3RegionFlg),
				Endpoint:  viper.GetString(s3EndpointFlg),
			},
		)
		if err == nil {
			err = s3Store.EnsureBucket(context.Background(), viper.GetString(bucketFlg))
			st = s3Store
		}
	case "gcs":
		st, err = gcs.New(
			context.Background(),
			log,
			&gcs.ObjectStoreConfigGCS{
				ProjectID:       viper.GetString(gcpProjectFlg),
				CredentialsFile: viper.GetString(gcpCredentialsFlg),
			},
		)
	case "local":
		st, err = local.New(
			log,
			&local.ObjectStoreConfigLocal{
				BasePath: viper.GetString(localStorePathFlg),
			},
		)
	default:
		return fmt.Errorf("unsupported object store type: %s", stString)
	}
	if err != nil {
		return fmt.Errorf("error initializing object store: %w", err)
	}
	logger.Info("initialized object store", "type", stString)
	return nil
}

func newBackuper(m *metrics.Metrics) (*backup.Backuper, error) {
	reconciler, err := reconcile.New(logger.With("component", "reconcile"), st, &reconcile.Config{
		Bucket:  viper.GetString(bucketFlg),
		Prefix:  viper.GetString(destFlg),
		Workers: viper.GetInt(workersFlg),
	})
	if err != nil {
		return nil, err
	}

	return backup.New(
		logger.With("component", "backup"),
		db,
		st,
		compress.New(),
		m,
		reconciler,
		&backup.Config{
			Bucket: viper.GetString(bucketFlg),
			Prefix: viper.GetString(destFlg),
		},
	), nil
}

func referenceDate() (time.Time, error) {
	if date := viper.GetString(dateFlg); date != "" {
		return retention.Parse(date)
	}
	return time.Now().UTC(), nil
}
