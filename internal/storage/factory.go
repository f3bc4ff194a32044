package storage

import (
	"context"
	"fmt"

	"contact-sync/internal/storage/postgres"
	"contact-sync/internal/storage/sqlite"
)

// New creates a storage adapter from config.
func New(ctx context.Context, config Config) (Storage, error) {
	switch config.Type {
	case "", "sqlite":
		adapter, err := sqlite.NewAdapter(config.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return adapter, nil
	case "postgres", "postgresql":
		adapter, err := postgres.NewAdapter(ctx, config.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", config.Type)
	}
}
