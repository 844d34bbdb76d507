package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"reqshield/internal/models"
)

// JSONStorage keeps the snapshot in a single JSON file. Saves write a
// temporary file in the same directory and rename it over the old one, so a
// crash mid-write never leaves a truncated snapshot behind.
type JSONStorage struct {
	filePath string
	mu       sync.Mutex
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(config.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &JSONStorage{filePath: config.Path}, nil
}

func (j *JSONStorage) Load(ctx context.Context) (*models.DefenseSnapshot, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return decodeSnapshot(data)
}

func (j *JSONStorage) Save(ctx context.Context, snap *models.DefenseSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), filepath.Base(j.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmpName, j.filePath); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// Ping checks that the snapshot directory is still accessible.
func (j *JSONStorage) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(j.filePath)); err != nil {
		return fmt.Errorf("snapshot directory unavailable: %w", err)
	}
	return nil
}

func (j *JSONStorage) Close() error {
	return nil
}
