// Package bootstrap connects the external dependencies shared by the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/podcast-service/internal/config"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/objectstore"
	"github.com/book-expert/podcast-service/internal/repository"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"
)

// OpenObjectStore connects the configured audio backend. The NATS connection is
// returned so the worker can share it; it is nil when NATS is not configured.
func OpenObjectStore(ctx context.Context, cfg *config.Config) (core.ObjectStore, *nats.Conn, error) {
	var natsConnection *nats.Conn

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		natsConnection = conn
	}

	switch cfg.Storage.Backend {
	case config.StorageBackendMinio:
		store, err := objectstore.NewMinioObjectStore(ctx, objectstore.MinioOptions{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, natsConnection, err
		}

		return store, natsConnection, nil
	case config.StorageBackendMemory:
		return objectstore.NewMemoryObjectStore(), natsConnection, nil
	default:
		if natsConnection == nil {
			return nil, nil, errors.New("nats.url is required for the nats storage backend")
		}

		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, natsConnection, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		store, err := objectstore.NewNatsObjectStore(jetstreamContext, cfg.Storage.Bucket)
		if err != nil {
			return nil, natsConnection, err
		}

		return store, natsConnection, nil
	}
}

// OpenDatabase opens and migrates the configured relational store.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, *repository.Repository, error) {
	db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := repository.New(db)

	migrateErr := repo.Migrate(ctx)
	if migrateErr != nil {
		return nil, nil, fmt.Errorf("failed to migrate database: %w", migrateErr)
	}

	return db, repo, nil
}
