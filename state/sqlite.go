package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS converted (
	hash TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	converted_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteTracker persists converted source hashes in a SQLite database.
// Unlike FileTracker it survives concurrent runs against the same
// database file.
type SQLiteTracker struct {
	*MemoryTracker
	db      *sql.DB
	persist bool
}

func NewSQLiteTracker(path string, persist bool) (*SQLiteTracker, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state database path is empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	tracker := &SQLiteTracker{
		MemoryTracker: NewMemoryTracker(),
		db:            db,
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		db.Close()
		return nil, err
	}

	return tracker, nil
}

func (s *SQLiteTracker) load() error {
	rows, err := s.db.Query("SELECT hash, name FROM converted")
	if err != nil {
		return fmt.Errorf("read state database: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash, name string
		if err := rows.Scan(&hash, &name); err != nil {
			return fmt.Errorf("scan state row: %w", err)
		}
		if hash == "" {
			continue
		}

		s.mu.Lock()
		s.processed[hash] = name
		s.mu.Unlock()
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("read state database: %w", err)
	}

	return nil
}

func (s *SQLiteTracker) MarkProcessed(hash, name string) error {
	if hash == "" {
		return nil
	}

	s.mu.Lock()
	if _, exists := s.processed[hash]; exists {
		s.mu.Unlock()
		return nil
	}
	s.processed[hash] = name
	s.mu.Unlock()

	if !s.persist {
		return nil
	}

	if _, err := s.db.Exec("INSERT OR IGNORE INTO converted (hash, name) VALUES (?, ?)", hash, name); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}

	return nil
}

func (s *SQLiteTracker) Flush() error { return nil }

// Close closes the state database.
func (s *SQLiteTracker) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close state database: %w", err)
	}
	return nil
}
