package client

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/txn2/academy-client/pkg/config"
	"github.com/txn2/academy-client/pkg/database/migrate"
	"github.com/txn2/academy-client/pkg/storage"
	"github.com/txn2/academy-client/pkg/storage/postgres"
	s3store "github.com/txn2/academy-client/pkg/storage/s3"
)

// OpenStore opens the storage backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", storage.BackendMemory:
		return storage.NewMemoryStore(), nil

	case storage.BackendFile:
		s, err := storage.NewFileStore(cfg.File.Path)
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		logger.Debug("client: file store opened", "path", s.Path())
		return s, nil

	case storage.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if cfg.Postgres.ShouldMigrate() {
			if err := migrate.Run(db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		logger.Debug("client: postgres store opened", "namespace", cfg.Postgres.Namespace)
		return postgres.New(db, postgres.Config{Namespace: cfg.Postgres.Namespace}), nil

	case storage.BackendS3:
		s, err := s3store.NewFromConfig(ctx, s3store.Config{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKeyID:  cfg.S3.AccessKeyID,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("opening s3 store: %w", err)
		}
		logger.Debug("client: s3 store opened", "bucket", cfg.S3.Bucket)
		return s, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
