package core

import (
	"context"
	"fmt"

	"herdcore/internal/blob"
	"herdcore/internal/config"
	"herdcore/internal/infra/persistence/blobsnap"
	"herdcore/internal/infra/persistence/memory"
	"herdcore/internal/infra/persistence/postgres"
	"herdcore/internal/infra/persistence/sqlite"
)

// OpenPersistentStore builds the store cfg.Storage names. The blob driver
// archives state through the object store described by cfg.Blob.
// Stores holding connections implement io.Closer.
func OpenPersistentStore(ctx context.Context, cfg config.Config, engine *RulesEngine) (PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return memory.NewStore(engine), nil
	case config.StorageSQLite:
		store, err := sqlite.NewStore(cfg.Storage.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageBlob:
		objects, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		store, err := blobsnap.NewStore(ctx, objects, engine, blobsnap.Options{
			Prefix: cfg.Storage.BlobPrefix,
			Retain: cfg.Storage.BlobRetain,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Storage.Driver)
	}
}
