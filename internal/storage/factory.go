package storage

import (
	"fmt"

	"reqshield/internal/models"
)

// Factory creates snapshot stores from configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - json: a single JSON file, replaced atomically on save
//   - memory: in-process only (for testing/development)
//   - postgres: PostgreSQL tables through a pgx pool
//   - redis: one JSON value under a configurable key
//   - sqlite: SQLite tables (pure Go driver)
func (f *Factory) Create(config models.StorageConfig) (SnapshotStore, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	// Convert models.StorageConfig to internal Config format
	storageConfig := Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.DSN,
		Redis:            config.Redis,
	}

	switch config.Type {
	case models.StorageTypeJSON:
		return NewJSONStorage(storageConfig)
	case models.StorageTypeMemory:
		return NewMemoryStorage(storageConfig)
	case models.StorageTypePostgres:
		return NewPostgresStorage(storageConfig)
	case models.StorageTypeRedis:
		return NewRedisStorage(storageConfig)
	case models.StorageTypeSQLite:
		return NewSQLiteStorage(storageConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{
		models.StorageTypeJSON,
		models.StorageTypeMemory,
		models.StorageTypePostgres,
		models.StorageTypeRedis,
		models.StorageTypeSQLite,
	}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeJSON:
		if config.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	case models.StorageTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}
