package fingerprint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps digests in a SQLite database. Like FileStore, a missing
// database reads as empty and is created on the first Put.
type SQLiteStore struct {
	mu   sync.Mutex
	db   *sql.DB // nil until the database file exists
	path string
}

// OpenSQLiteStore opens the database at path if it exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	s := &SQLiteStore{path: path}
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// open connects to the database, creating the file and table as needed.
func (s *SQLiteStore) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create fingerprint dir: %w", err)
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("open fingerprint db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS fingerprints (
			name    TEXT PRIMARY KEY,
			digest  TEXT NOT NULL,
			updated INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return fmt.Errorf("create tables: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return "", false
	}
	var digest string
	err := s.db.QueryRow("SELECT digest FROM fingerprints WHERE name = ?", name).Scan(&digest)
	if err != nil {
		return "", false
	}
	return digest, true
}

func (s *SQLiteStore) Put(name, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO fingerprints (name, digest, updated) VALUES (?, ?, ?)",
		name, digest, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store fingerprint %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("DELETE FROM fingerprints WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete fingerprint %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}
