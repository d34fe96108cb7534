package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/journalsystem/imageservice/internal/config"
	"github.com/journalsystem/imageservice/internal/domain/imaging"
	"github.com/journalsystem/imageservice/internal/platform/db"
	"github.com/journalsystem/imageservice/internal/platform/filestore"
	"github.com/journalsystem/imageservice/internal/platform/overlay"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "image-server",
		Short: "Patient image upload and editing service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the image API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run metadata database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			migrator, closeDB, err := openMigrator(ctx, cfg, schema)
			if err != nil {
				return err
			}
			if migrator == nil {
				fmt.Println("DB_DRIVER is none: nothing to migrate.")
				return nil
			}
			defer closeDB()

			fmt.Printf("Running %s migrations\n", cfg.DBDriver)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target PostgreSQL schema for migrations")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			migrator, closeDB, err := openMigrator(ctx, cfg, schema)
			if err != nil {
				return err
			}
			if migrator == nil {
				fmt.Println("DB_DRIVER is none: no migrations apply.")
				return nil
			}
			defer closeDB()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status (%s)\n", cfg.DBDriver)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target PostgreSQL schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

// metadataStore is an opened metadata database: the repository, its health
// probe, a migrator for its dialect, and a close func.
type metadataStore struct {
	repo     imaging.ImageRepository
	check    db.Check
	migrator *db.Migrator
	close    func()
}

// openMetadataStore connects to the database selected by DB_DRIVER. It
// returns nil for DriverNone.
func openMetadataStore(ctx context.Context, cfg *config.Config, schema string) (*metadataStore, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		files, err := db.Migrations(db.DialectPostgres)
		if err != nil {
			return nil, err
		}
		pool, err := db.NewPool(ctx, cfg.PostgresURL(), cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &metadataStore{
			repo:     imaging.NewImageRepoPG(pool),
			check:    db.PoolCheck(pool),
			migrator: db.NewMigrator(pool, schema, files),
			close:    pool.Close,
		}, nil

	case config.DriverSQLite:
		files, err := db.Migrations(db.DialectSQLite)
		if err != nil {
			return nil, err
		}
		conn, err := db.OpenSQLite(ctx, db.SQLiteConfig{Path: cfg.DBPath, MaxOpenConns: int(cfg.DBMaxConns)})
		if err != nil {
			return nil, err
		}
		return &metadataStore{
			repo:     imaging.NewImageRepoSQLite(conn),
			check:    db.SQLCheck(conn),
			migrator: db.NewSQLiteMigrator(conn, files),
			close:    func() { conn.Close() },
		}, nil

	case config.DriverNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}

func openMigrator(ctx context.Context, cfg *config.Config, schema string) (*db.Migrator, func(), error) {
	ms, err := openMetadataStore(ctx, cfg, schema)
	if err != nil || ms == nil {
		return nil, nil, err
	}
	return ms.migrator, ms.close, nil
}

func openFileStore(ctx context.Context, cfg *config.Config) (filestore.Store, error) {
	if cfg.StorageBackend == config.StorageS3 {
		client, err := filestore.NewS3Client(ctx, filestore.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return filestore.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
	}
	local, err := filestore.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// newLogger writes JSON to out, or console output in development, at the
// level named by LOG_LEVEL.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}
	return logger
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// File storage
	store, err := openFileStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to open file storage")
	}
	logger.Info().Str("backend", cfg.StorageBackend).Msg("file storage ready")

	// Metadata database
	deps := serverDeps{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
	ms, err := openMetadataStore(ctx, cfg, "public")
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to database")
	}
	if ms != nil {
		defer ms.close()
		count, err := ms.migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		logger.Info().Str("driver", cfg.DBDriver).Int("applied", count).Msg("connected to database")
		deps.repo = ms.repo
		deps.dbCheck = &ms.check
	} else {
		logger.Warn().Msg("DB_DRIVER is none: running in file-only mode without metadata")
	}

	renderer, err := overlay.NewRenderer(cfg.TransformTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise overlay renderer")
	}
	deps.transform = renderer

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.registry = reg

	e := newServer(deps)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
