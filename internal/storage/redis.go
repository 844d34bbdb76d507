package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reqshield/internal/models"
)

// RedisStorage stores the snapshot as one JSON value. Several instances
// pointing at the same key share their quarantine list after a restart.
type RedisStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStorage connects to redis and verifies the connection
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.Redis.Addr == "" {
		return nil, fmt.Errorf("address is required for redis storage")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := config.Redis.Key
	if key == "" {
		key = models.DefaultRedisSnapshotKey
	}

	return &RedisStorage{client: client, key: key}, nil
}

func (rs *RedisStorage) Load(ctx context.Context) (*models.DefenseSnapshot, error) {
	data, err := rs.client.Get(ctx, rs.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

func (rs *RedisStorage) Save(ctx context.Context, snap *models.DefenseSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := rs.client.Set(ctx, rs.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
