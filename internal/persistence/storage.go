package persistence

import (
	"context"
	"fmt"
	"io"

	"specsync/internal/config"
	blobfs "specsync/internal/infra/blob/fs"
	blobs3 "specsync/internal/infra/blob/s3"
	"specsync/internal/infra/persistence/memory"
	"specsync/internal/infra/persistence/postgres"
	"specsync/internal/infra/persistence/redis"
	"specsync/internal/infra/persistence/sqlite"
	"specsync/pkg/domain"
)

// Constructors are package variables so tests can substitute backends that need a server.
var (
	openS3       = blobs3.New
	openPostgres = postgres.NewStore
	openRedis    = newRedis
)

func newRedis(ctx context.Context, url, prefix string) (*redis.Store, error) {
	var opts []redis.Option
	if prefix != "" {
		opts = append(opts, redis.WithKeyPrefix(prefix))
	}
	return redis.New(ctx, url, opts...)
}

// OpenDocumentStore selects a backend from the storage configuration.
//
//	fs:       one JSON file per domain under storage.fs.root (atomic rename writes)
//	memory:   ephemeral, for tests and dry runs
//	s3:       one object per domain, conditional PutObject for compare-and-swap
//	sqlite:   embedded database file
//	postgres: PostgreSQL server
//	redis:    Redis hashes, WATCH/MULTI compare-and-swap
func OpenDocumentStore(ctx context.Context, cfg config.StorageConfig) (domain.DocumentStore, error) {
	switch cfg.Driver {
	case config.DriverFS, "":
		root := cfg.FS.Root
		if root == "" {
			root = ".specsync"
		}
		blobs, err := blobfs.New(root)
		if err != nil {
			return nil, err
		}
		return NewBlobStore(blobs, cfg.FS.Prefix), nil
	case config.DriverMemory:
		return memory.NewStore(), nil
	case config.DriverS3:
		blobs, err := openS3(ctx, blobs3.Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3: %w", err)
		}
		return NewBlobStore(blobs, cfg.S3.Prefix), nil
	case config.DriverSQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := openPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverRedis:
		store, err := openRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// Close releases the store's connections when it holds any.
func Close(store domain.DocumentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
