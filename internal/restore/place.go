package restore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Kind is the classification of an extracted payload.
type Kind int

const (
	DirSegment Kind = iota
	FileSegment
)

func (k Kind) String() string {
	if k == FileSegment {
		return "file"
	}
	return "dir"
}

// Classify inspects scratch. The payload is a file segment iff scratch holds
// exactly one entry, it is not a directory, and its name equals the base
// name of dest. A directory segment containing a single file with that name
// is therefore restored as a file; the archive format carries no tag to
// tell the two apart.
func Classify(scratch, dest string) (Kind, error) {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return DirSegment, fmt.Errorf("read scratch: %w", err)
	}
	if len(entries) == 1 && !entries[0].IsDir() && entries[0].Name() == filepath.Base(dest) {
		return FileSegment, nil
	}
	return DirSegment, nil
}

// Conflict is a scratch entry that could not be placed because the
// destination holds an entry of a different kind.
type Conflict struct {
	Path string
	Want string
	Have string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s: restored %s conflicts with existing %s", c.Path, c.Want, c.Have)
}

func kindOf(mode os.FileMode) string {
	if mode.IsDir() {
		return "directory"
	}
	return "file"
}

// Place moves the classified payload from scratch to dest and returns the
// entries left in scratch because of kind conflicts.
func Place(scratch, dest string, kind Kind) ([]Conflict, error) {
	if kind == FileSegment {
		return placeFile(filepath.Join(scratch, filepath.Base(dest)), dest)
	}

	st, err := os.Stat(dest)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return nil, fmt.Errorf("create destination: %w", err)
		}
	case err != nil:
		return nil, err
	case !st.IsDir():
		return []Conflict{{Path: dest, Want: "directory", Have: "file"}}, nil
	}

	var conflicts []Conflict
	if err := merge(scratch, dest, &conflicts); err != nil {
		return conflicts, err
	}
	return conflicts, nil
}

func placeFile(src, dest string) ([]Conflict, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create destination parent: %w", err)
	}
	if st, err := os.Lstat(dest); err == nil && st.IsDir() {
		return []Conflict{{Path: dest, Want: "file", Have: "directory"}}, nil
	}
	if err := os.Rename(src, dest); err != nil {
		return nil, fmt.Errorf("place %s: %w", dest, err)
	}
	return nil, nil
}

// merge moves the children of src into dst. Entries of dst that are not in
// src are never touched.
func merge(src, dst string, conflicts *[]Conflict) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	restoreMode, err := ensureWritable(dst)
	if err != nil {
		return err
	}
	defer restoreMode()
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		existing, err := os.Lstat(to)
		if errors.Is(err, os.ErrNotExist) {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("place %s: %w", to, err)
			}
			continue
		}
		if err != nil {
			return err
		}

		srcInfo, err := e.Info()
		if err != nil {
			return err
		}
		switch {
		case srcInfo.IsDir() && existing.IsDir():
			if err := merge(from, to, conflicts); err != nil {
				return err
			}
		case !srcInfo.IsDir() && !existing.IsDir():
			// The existing file is this archive's own entry from an earlier
			// restore or an older backup: replace it.
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("place %s: %w", to, err)
			}
		default:
			*conflicts = append(*conflicts, Conflict{
				Path: to,
				Want: kindOf(srcInfo.Mode()),
				Have: kindOf(existing.Mode()),
			})
		}
	}
	return nil
}

// ensureWritable grants the owner full access to dir for the duration of a
// merge. A directory placed by an earlier restore carries its archived mode,
// which may be read-only. The returned func puts the old mode back;
// ApplyDirAttrs then sets the archived one.
func ensureWritable(dir string) (func(), error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	perm := st.Mode().Perm()
	if perm&0o700 == 0o700 {
		return func() {}, nil
	}
	if err := os.Chmod(dir, perm|0o700); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", dir, err)
	}
	return func() { os.Chmod(dir, perm) }, nil //nolint:errcheck // best effort
}
