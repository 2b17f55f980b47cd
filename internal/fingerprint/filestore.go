package fingerprint

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FileStore keeps digests in a text file with one name=digest line per
// segment. The file is created lazily on the first Put and rewritten
// atomically on every change.
type FileStore struct {
	digests map[string]string
	path    string
}

// OpenFileStore loads path. A missing file is an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, digests: make(map[string]string)}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, digest, ok := strings.Cut(line, "=")
		if !ok {
			slog.Warn("invalid line in hash file", "path", path, "line", lineNum, "text", line)
			continue
		}
		s.digests[strings.TrimSpace(name)] = strings.TrimSpace(digest)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(name string) (string, bool) {
	d, ok := s.digests[name]
	return d, ok
}

func (s *FileStore) Put(name, digest string) error {
	prev, had := s.digests[name]
	s.digests[name] = digest
	if err := s.write(); err != nil {
		if had {
			s.digests[name] = prev
		} else {
			delete(s.digests, name)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(name string) error {
	prev, had := s.digests[name]
	if !had {
		return nil
	}
	delete(s.digests, name)
	if err := s.write(); err != nil {
		s.digests[name] = prev
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// write replaces the file with the current map, keys sorted.
func (s *FileStore) write() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory for hash file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create hash file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op after a successful rename

	names := make([]string, 0, len(s.digests))
	for name := range s.digests {
		names = append(names, name)
	}
	slices.Sort(names)

	w := bufio.NewWriter(tmp)
	for _, name := range names {
		fmt.Fprintf(w, "%s=%s\n", name, s.digests[name])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write hash file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync hash file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close hash file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace hash file: %w", err)
	}
	return nil
}
