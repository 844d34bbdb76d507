package storage

import (
	"context"
	"sync"

	"reqshield/internal/models"
)

// MemoryStorage keeps the snapshot in process memory. It survives nothing
// and exists for development and tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	snap   *models.DefenseSnapshot
	closed bool
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{}, nil
}

func (m *MemoryStorage) Load(ctx context.Context) (*models.DefenseSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if m.snap == nil {
		return nil, ErrSnapshotNotFound
	}
	// Return a copy to prevent external modification
	return normalize(m.snap), nil
}

func (m *MemoryStorage) Save(ctx context.Context, snap *models.DefenseSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.snap = normalize(snap)
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
