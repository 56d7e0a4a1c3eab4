// Package audit keeps a count of redacted entities per sanitize request in
// SQLite. Only entity types and counts are stored, never the redacted values.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("audit: store closed")

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    count INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs(entity_type);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp);
`

// Entry is one stored audit row.
type Entry struct {
	RequestID  string
	EntityType string
	Count      int
	Timestamp  time.Time
}

// Store persists audit rows in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the audit database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Record writes one row per entity type in items. Zero or negative counts
// are skipped. All rows of a request share a timestamp.
func (s *Store) Record(ctx context.Context, requestID string, items map[string]int) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}

	types := make([]string, 0, len(items))
	for t, n := range items {
		if n > 0 {
			types = append(types, t)
		}
	}
	sort.Strings(types)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ts := s.now().UTC()
	for _, t := range types {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_logs (request_id, entity_type, count, timestamp) VALUES (?, ?, ?, ?)`,
			requestID, t, items[t], ts,
		); err != nil {
			return fmt.Errorf("audit: insert %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

// Stats returns the total count per entity type across all requests.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, SUM(count) FROM audit_logs GROUP BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("audit: stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var (
			entity string
			total  int
		)
		if err := rows.Scan(&entity, &total); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		stats[entity] = total
	}
	return stats, rows.Err()
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, entity_type, count, timestamp FROM audit_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RequestID, &e.EntityType, &e.Count, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
