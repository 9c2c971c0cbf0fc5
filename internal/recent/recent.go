// Package recent keeps the most-recently-opened document list in a small
// SQLite database under the user's config directory. The list is capped;
// touching a path past the cap evicts the oldest entry.
package recent

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS recent_documents (
	path        TEXT PRIMARY KEY,
	last_opened INTEGER NOT NULL -- unix nanoseconds; ties would break eviction order
);
CREATE INDEX IF NOT EXISTS idx_recent_last_opened ON recent_documents (last_opened DESC);
`

// Entry is one recently opened document.
type Entry struct {
	Path       string
	LastOpened time.Time
}

// Store is the registry handle. Safe for use from one process; SQLite
// serializes concurrent writers itself.
type Store struct {
	db  *sql.DB
	cap int
}

// DefaultPath returns the registry location under the platform config dir.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("recent: no config or home directory: %w", err)
		}
		return filepath.Join(home, ".bitquill", "recent.db"), nil
	}
	return filepath.Join(base, "bitquill", "recent.db"), nil
}

// Open opens (and if needed creates) the registry at path, keeping at most
// cap entries.
func Open(path string, cap int) (*Store, error) {
	if cap < 1 {
		return nil, fmt.Errorf("recent: cap must be positive, got %d", cap)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recent: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recent: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("recent: create schema: %w", err)
	}
	return &Store{db: db, cap: cap}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Touch records that path was just opened, evicting the oldest entries past
// the cap.
func (s *Store) Touch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("recent: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO recent_documents (path, last_opened) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET last_opened = excluded.last_opened`,
		abs, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("recent: upsert %s: %w", abs, err)
	}

	if _, err := tx.Exec(
		`DELETE FROM recent_documents WHERE path NOT IN (
			SELECT path FROM recent_documents ORDER BY last_opened DESC LIMIT ?
		 )`, s.cap,
	); err != nil {
		return fmt.Errorf("recent: prune: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recent: commit: %w", err)
	}
	return nil
}

// List returns the entries, most recently opened first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT path, last_opened FROM recent_documents ORDER BY last_opened DESC, path ASC`)
	if err != nil {
		return nil, fmt.Errorf("recent: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var nanos int64
		if err := rows.Scan(&e.Path, &nanos); err != nil {
			return nil, fmt.Errorf("recent: scan: %w", err)
		}
		e.LastOpened = time.Unix(0, nanos)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remove drops a path from the registry, for documents deleted on disk.
func (s *Store) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, err := s.db.Exec(`DELETE FROM recent_documents WHERE path = ?`, abs); err != nil {
		return fmt.Errorf("recent: remove %s: %w", abs, err)
	}
	return nil
}
