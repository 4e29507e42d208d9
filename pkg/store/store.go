// Package store persists scan results to SQLite for post-run querying.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/apkscan/apkscan/pkg/types"
)

// Store is a SQLite-backed results database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS locators (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    pattern     TEXT NOT NULL,
    confidence  TEXT,
    severity    TEXT
);

CREATE TABLE IF NOT EXISTS results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    secret      BLOB NOT NULL,
    file_path   TEXT NOT NULL,
    line_number INTEGER NOT NULL,
    locator_id  TEXT NOT NULL REFERENCES locators(id)
);

CREATE INDEX IF NOT EXISTS idx_results_locator ON results(locator_id);
`

// Open opens (or creates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// AddLocator stores a locator record, ignoring duplicates.
func (s *Store) AddLocator(l *types.SecretLocator) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO locators (id, name, pattern, confidence, severity) VALUES (?, ?, ?, ?, ?)",
		l.ID, l.Name, l.RawPattern, l.Confidence, l.Severity)
	return err
}

// AddResult stores one scan result.
func (s *Store) AddResult(r *types.SecretResult) error {
	_, err := s.db.Exec(
		"INSERT INTO results (secret, file_path, line_number, locator_id) VALUES (?, ?, ?, ?)",
		r.Secret, r.FilePath, r.LineNumber, r.Locator.ID)
	return err
}

// StoredResult is a persisted result row.
type StoredResult struct {
	Secret     []byte
	FilePath   string
	LineNumber int
	LocatorID  string
}

// Results retrieves all stored results in insertion order.
func (s *Store) Results() ([]StoredResult, error) {
	rows, err := s.db.Query("SELECT secret, file_path, line_number, locator_id FROM results ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var r StoredResult
		if err := rows.Scan(&r.Secret, &r.FilePath, &r.LineNumber, &r.LocatorID); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResultCount reports the number of persisted results.
func (s *Store) ResultCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM results").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
