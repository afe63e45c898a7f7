package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avh-lab/repchat/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS quota_counts (
		condition TEXT NOT NULL,
		subtype TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (condition, subtype)
	);

	CREATE TABLE IF NOT EXISTS event_records (
		event_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		category TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON event_records(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_category ON event_records(session_id, category, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadQuota reads all quota cells. An empty table is zero-initialized
// and persisted; a table with some but not all cells means a prior
// partial write and is reported as corruption rather than repaired.
func (s *SQLiteStore) LoadQuota(ctx context.Context) (domain.Quota, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT condition, subtype, count FROM quota_counts`)
	if err != nil {
		return nil, fmt.Errorf("query quota: %w", err)
	}
	defer rows.Close()

	quota := domain.Quota{}
	n := 0
	for rows.Next() {
		var cond, sub string
		var count int
		if err := rows.Scan(&cond, &sub, &count); err != nil {
			return nil, fmt.Errorf("scan quota row: %w", err)
		}
		if quota[domain.Condition(cond)] == nil {
			quota[domain.Condition(cond)] = make(map[domain.Subtype]int)
		}
		quota[domain.Condition(cond)][domain.Subtype(sub)] = count
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quota rows: %w", err)
	}

	if n == 0 {
		quota = domain.NewQuota()
		if err := s.SaveQuota(ctx, quota); err != nil {
			return nil, fmt.Errorf("initialize quota: %w", err)
		}
		return quota, nil
	}

	if !quota.Complete() {
		return nil, fmt.Errorf("quota state corrupt: %d of %d cells present",
			n, len(domain.Conditions)*len(domain.Subtypes))
	}
	return quota, nil
}

// SaveQuota upserts every cell inside one transaction.
func (s *SQLiteStore) SaveQuota(ctx context.Context, quota domain.Quota) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	stmt := `
	INSERT INTO quota_counts (condition, subtype, count) VALUES (?, ?, ?)
	ON CONFLICT(condition, subtype) DO UPDATE SET count = excluded.count`

	for _, c := range domain.Conditions {
		for _, t := range domain.Subtypes {
			if _, err := tx.ExecContext(ctx, stmt, string(c), string(t), quota[c][t]); err != nil {
				return fmt.Errorf("upsert quota cell %s/%s: %w", c, t, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quota tx: %w", err)
	}
	return nil
}

// AppendEvent durably appends one event record.
func (s *SQLiteStore) AppendEvent(ctx context.Context, rec EventRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_records (event_id, session_id, category, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.EventID, rec.SessionID, rec.Category, string(rec.Payload), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsBySession retrieves a session's event records, oldest first.
func (s *SQLiteStore) EventsBySession(ctx context.Context, sessionID, category string) ([]EventRecord, error) {
	query := `SELECT event_id, session_id, category, payload, created_at
	          FROM event_records WHERE session_id = ?`
	args := []any{sessionID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var payload string
		var createdAt int64
		if err := rows.Scan(&rec.EventID, &rec.SessionID, &rec.Category, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		rec.Payload = []byte(payload)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}
