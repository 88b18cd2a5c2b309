package compiler

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mlc/internal/logging"
)

// Store is the persistent artifact cache, one SQLite database per
// cache directory. Artifacts are content-addressed and immutable, so
// the schema is a plain key/payload table.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore initializes the cache database under dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	path := filepath.Join(dir, "artifacts.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Cache("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Cache("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			key        TEXT PRIMARY KEY,
			unit_hash  TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			payload    BLOB NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create artifacts table: %w", err)
	}
	logging.Cache("artifact store opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Get loads an artifact by key; (nil, nil) on miss.
func (s *Store) Get(key string) (*Artifact, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM artifacts WHERE key = ?", key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache read: %w", err)
	}
	return decodeArtifact(payload)
}

// Put stores an artifact. Existing rows win: artifacts under the same
// key are byte-identical by construction.
func (s *Store) Put(key string, a *Artifact) error {
	payload, err := a.encode()
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO artifacts (key, unit_hash, created_at, payload) VALUES (?, ?, ?, ?)",
		key, a.UnitHash, time.Now().Unix(), payload,
	)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Count returns the number of stored artifacts.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts").Scan(&n)
	return n, err
}

// Clear removes all stored artifacts.
func (s *Store) Clear() error {
	_, err := s.db.Exec("DELETE FROM artifacts")
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
