package storage

import (
	"context"

	"reqshield/internal/models"
)

// SnapshotStore persists the defense state that must survive a restart:
// violation records and quarantined keys. Each Save replaces the previously
// stored snapshot as a whole.
type SnapshotStore interface {
	// Load returns the most recently saved snapshot, or ErrSnapshotNotFound
	Load(ctx context.Context) (*models.DefenseSnapshot, error)

	// Save replaces the stored snapshot
	Save(ctx context.Context, snap *models.DefenseSnapshot) error

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, sqlite, etc.)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Redis holds the connection settings of the redis backend
	Redis models.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}
