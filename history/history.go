// Package history persists connection lifecycle events in a local
// SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/vpn"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	profile_id TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	detail     TEXT    NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`

// Entry is one stored event.
type Entry struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	ProfileID string        `json:"profile_id"`
	Kind      vpn.EventKind `json:"kind"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store is a vpn.Recorder backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := common.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// Recorder calls arrive from several goroutines; one writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	common.LogDebug("History database opened: %s", path)
	return &Store{db: db}, nil
}

// Record stores e. Failures are logged, never returned.
func (s *Store) Record(e vpn.Event) {
	if err := s.Insert(context.Background(), e); err != nil {
		common.LogWarn("Could not record %s event for %s: %v", e.Kind, e.ProfileID, err)
	}
}

// Insert stores e and reports any database error.
func (s *Store) Insert(ctx context.Context, e vpn.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, profile_id, kind, detail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.ProfileID, string(e.Kind), e.Detail, e.Duration.Milliseconds(), at.UnixMilli())
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, profile_id, kind, detail, duration_ms, created_at
		 FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			kind       string
			durationMS int64
			createdAt  int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ProfileID, &kind, &e.Detail, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Kind = vpn.EventKind(kind)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
