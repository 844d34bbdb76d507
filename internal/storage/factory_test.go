package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqshield/internal/models"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		assert.Equal(t, []string{"json", "memory", "postgres", "redis", "sqlite"}, factory.GetSupportedProviders())
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{"valid json config", models.StorageConfig{Type: "json", Path: "/tmp/defense.json"}, false},
			{"valid memory config", models.StorageConfig{Type: "memory"}, false},
			{"valid sqlite config", models.StorageConfig{Type: "sqlite", DSN: "defense.db"}, false},
			{"valid redis config", models.StorageConfig{Type: "redis", Redis: models.RedisConfig{Addr: "localhost:6379"}}, false},
			{"invalid storage type", models.StorageConfig{Type: "invalid"}, true},
			{"json without path", models.StorageConfig{Type: "json"}, true},
			{"postgres without dsn", models.StorageConfig{Type: "postgres"}, true},
			{"sqlite without dsn", models.StorageConfig{Type: "sqlite"}, true},
			{"redis without addr", models.StorageConfig{Type: "redis"}, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})

	t.Run("CreateMemoryStorage", func(t *testing.T) {
		store, err := factory.Create(models.StorageConfig{Type: "memory"})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &MemoryStorage{}, store)
	})

	t.Run("CreateJSONStorage", func(t *testing.T) {
		store, err := factory.Create(models.StorageConfig{Type: "json", Path: filepath.Join(t.TempDir(), "defense.json")})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &JSONStorage{}, store)
	})

	t.Run("CreateSQLiteStorage", func(t *testing.T) {
		store, err := factory.Create(models.StorageConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "defense.db")})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &SQLiteStorage{}, store)
	})

	t.Run("CreateRejectsInvalidConfig", func(t *testing.T) {
		_, err := factory.Create(models.StorageConfig{Type: "json"})
		assert.Error(t, err)

		_, err = factory.Create(models.StorageConfig{Type: "etcd"})
		assert.Error(t, err)
	})
}
