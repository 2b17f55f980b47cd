package fingerprint

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists the last committed digest per segment name.
type Store interface {
	// Get returns the stored digest for name, if any.
	Get(name string) (string, bool)
	// Put upserts the digest for name and persists it before returning.
	Put(name, digest string) error
	// Delete drops any stored digest for name.
	Delete(name string) error
	Close() error
}

// OpenStore opens the store backing path: SQLite for .db/.sqlite/.sqlite3,
// the name=digest text format otherwise, and an in-memory store when path
// is empty.
//
//nolint:ireturn // store chosen by path
func OpenStore(path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		s, err := OpenSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open fingerprint db: %w", err)
		}
		return s, nil
	default:
		s, err := OpenFileStore(path)
		if err != nil {
			return nil, fmt.Errorf("open fingerprint file: %w", err)
		}
		return s, nil
	}
}

// MemoryStore keeps digests for the lifetime of the process only.
type MemoryStore struct {
	mu      sync.Mutex
	digests map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{digests: make(map[string]string)}
}

func (m *MemoryStore) Get(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.digests[name]
	return d, ok
}

func (m *MemoryStore) Put(name, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digests[name] = digest
	return nil
}

func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.digests, name)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
