package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reqshield/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS defense_snapshot (
	id       SMALLINT PRIMARY KEY CHECK (id = 1),
	saved_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS defense_violations (
	client_key        TEXT PRIMARY KEY,
	count             INTEGER NOT NULL,
	last_violation_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS defense_quarantines (
	client_key TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	violations INTEGER NOT NULL,
	flagged_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);`

// PostgresStorage implements SnapshotStore on a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func (ps *PostgresStorage) Load(ctx context.Context) (*models.DefenseSnapshot, error) {
	snap := &models.DefenseSnapshot{}
	err := ps.pool.QueryRow(ctx, `SELECT saved_at FROM defense_snapshot WHERE id = 1`).Scan(&snap.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}

	rows, err := ps.pool.Query(ctx, `SELECT client_key, count, last_violation_at FROM defense_violations ORDER BY client_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	snap.Violations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ViolationSnapshot, error) {
		var v models.ViolationSnapshot
		err := row.Scan(&v.Key, &v.Count, &v.LastViolationAt)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}

	rows, err = ps.pool.Query(ctx, `SELECT client_key, reason, violations, flagged_at, expires_at FROM defense_quarantines ORDER BY client_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantines: %w", err)
	}
	snap.Quarantines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.QuarantineInfo, error) {
		var q models.QuarantineInfo
		err := row.Scan(&q.Key, &q.Reason, &q.Violations, &q.FlaggedAt, &q.ExpiresAt)
		return q, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantines: %w", err)
	}

	return normalize(snap), nil
}

func (ps *PostgresStorage) Save(ctx context.Context, snap *models.DefenseSnapshot) error {
	snap = normalize(snap)

	return pgx.BeginFunc(ctx, ps.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM defense_violations`)
		batch.Queue(`DELETE FROM defense_quarantines`)
		batch.Queue(`INSERT INTO defense_snapshot (id, saved_at) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET saved_at = EXCLUDED.saved_at`, snap.SavedAt)
		for _, v := range snap.Violations {
			batch.Queue(`INSERT INTO defense_violations (client_key, count, last_violation_at) VALUES ($1, $2, $3)`,
				v.Key, v.Count, v.LastViolationAt)
		}
		for _, q := range snap.Quarantines {
			batch.Queue(`INSERT INTO defense_quarantines (client_key, reason, violations, flagged_at, expires_at) VALUES ($1, $2, $3, $4, $5)`,
				q.Key, q.Reason, q.Violations, q.FlaggedAt, q.ExpiresAt)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		return nil
	})
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
