package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reqshield/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS defense_snapshot (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	saved_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS defense_violations (
	client_key        TEXT PRIMARY KEY,
	count             INTEGER NOT NULL,
	last_violation_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS defense_quarantines (
	client_key TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	violations INTEGER NOT NULL,
	flagged_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);`

// SQLiteStorage stores the snapshot in three SQLite tables. A Save replaces
// every row inside one transaction.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema if needed
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY on Save.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (ss *SQLiteStorage) Load(ctx context.Context) (*models.DefenseSnapshot, error) {
	var savedAt string
	err := ss.db.QueryRowContext(ctx, `SELECT saved_at FROM defense_snapshot WHERE id = 1`).Scan(&savedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}

	snap := &models.DefenseSnapshot{}
	if snap.SavedAt, err = parseTime(savedAt); err != nil {
		return nil, err
	}

	rows, err := ss.db.QueryContext(ctx, `SELECT client_key, count, last_violation_at FROM defense_violations ORDER BY client_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v models.ViolationSnapshot
		var last string
		if err := rows.Scan(&v.Key, &v.Count, &last); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		if v.LastViolationAt, err = parseTime(last); err != nil {
			return nil, err
		}
		snap.Violations = append(snap.Violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}
	rows.Close()

	qrows, err := ss.db.QueryContext(ctx, `SELECT client_key, reason, violations, flagged_at, expires_at FROM defense_quarantines ORDER BY client_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantines: %w", err)
	}
	defer qrows.Close()
	for qrows.Next() {
		var q models.QuarantineInfo
		var flagged, expires string
		if err := qrows.Scan(&q.Key, &q.Reason, &q.Violations, &flagged, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine: %w", err)
		}
		if q.FlaggedAt, err = parseTime(flagged); err != nil {
			return nil, err
		}
		if q.ExpiresAt, err = parseTime(expires); err != nil {
			return nil, err
		}
		snap.Quarantines = append(snap.Quarantines, q)
	}
	if err := qrows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read quarantines: %w", err)
	}

	return normalize(snap), nil
}

func (ss *SQLiteStorage) Save(ctx context.Context, snap *models.DefenseSnapshot) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM defense_violations`, `DELETE FROM defense_quarantines`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO defense_snapshot (id, saved_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at`,
		formatTime(snap.SavedAt)); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	for _, v := range snap.Violations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO defense_violations (client_key, count, last_violation_at) VALUES (?, ?, ?)`,
			v.Key, v.Count, formatTime(v.LastViolationAt)); err != nil {
			return fmt.Errorf("failed to write violation %s: %w", v.Key, err)
		}
	}
	for _, q := range snap.Quarantines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO defense_quarantines (client_key, reason, violations, flagged_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
			q.Key, q.Reason, q.Violations, formatTime(q.FlaggedAt), formatTime(q.ExpiresAt)); err != nil {
			return fmt.Errorf("failed to write quarantine %s: %w", q.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
