package storage

import (
	"context"
	"fmt"

	"screentest-backend/internal/config"
)

// New builds the backend named by cfg.Type and initializes it.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	var store Storage
	switch cfg.Type {
	case "", "memory":
		store = NewMemoryStorage()
	case "disk":
		store = NewDiskStorage(cfg.DataDir, cfg.CacheSize)
	case "firestore":
		fs, err := NewFirestoreStorage(ctx, cfg.FirestoreProject, cfg.FirestoreCollection, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		store = fs
	default:
		return nil, fmt.Errorf("%w: unsupported storage type %q", ErrStorageInit, cfg.Type)
	}

	if err := store.Init(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
