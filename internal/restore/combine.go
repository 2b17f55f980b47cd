package restore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// progressSuffix names the record kept while parts are being combined.
const progressSuffix = ".combine"

// ErrMissingPart is returned when a group's part numbers have a gap.
// Nothing is combined or removed in that case.
var ErrMissingPart = errors.New("missing archive part")

type progress struct {
	index  int
	offset int64
}

func readProgress(path string) (progress, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return progress{}, false, nil
	}
	if err != nil {
		return progress{}, false, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return progress{}, false, fmt.Errorf("malformed combine record %s", path)
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return progress{}, false, fmt.Errorf("malformed combine record %s: %w", path, err)
	}
	off, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return progress{}, false, fmt.Errorf("malformed combine record %s: %w", path, err)
	}
	return progress{index: idx, offset: off}, true, nil
}

func writeProgress(path string, p progress) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, fmt.Appendf(nil, "%d %d\n", p.index, p.offset), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Combine appends the group's parts, in numeric order, to the complete
// archive and returns its path. Each part is removed once appended unless
// keep is set. An interrupted combine resumes from its progress record.
func Combine(dir string, g Group, keep bool, buf []byte) (string, error) {
	target := filepath.Join(dir, g.Base)
	recordPath := target + progressSuffix
	if len(g.Parts) == 0 {
		// A record left behind after the last part was removed.
		if err := os.Remove(recordPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return target, nil
	}

	rec, resuming, err := readProgress(recordPath)
	if err != nil {
		return "", err
	}
	// Without a record the parts must start at 1. With one, parts before
	// rec.index may already be appended and removed.
	first := 1
	if resuming {
		first = min(g.Indexes[0], rec.index+1)
	}
	if err := g.checkContiguous(first); err != nil {
		return "", err
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", target, err)
	}
	defer f.Close()

	var offset int64
	start := 0
	if resuming {
		// Parts before rec.index are already in the file. If rec.index is
		// still present its append may be partial: truncate and redo it.
		offset = rec.offset
		for start < len(g.Indexes) && g.Indexes[start] < rec.index {
			start++
		}
		if start == len(g.Indexes) || g.Indexes[start] != rec.index {
			st, err := f.Stat()
			if err != nil {
				return "", err
			}
			offset = st.Size()
		}
	}
	if err := f.Truncate(offset); err != nil {
		return "", fmt.Errorf("truncate %s: %w", target, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	for i := start; i < len(g.Parts); i++ {
		if err := writeProgress(recordPath, progress{index: g.Indexes[i], offset: offset}); err != nil {
			return "", fmt.Errorf("write combine record: %w", err)
		}
		n, err := appendPart(f, filepath.Join(dir, g.Parts[i]), buf)
		if err != nil {
			return "", err
		}
		if err := f.Sync(); err != nil {
			return "", fmt.Errorf("sync %s: %w", target, err)
		}
		offset += n
		if !keep {
			if err := os.Remove(filepath.Join(dir, g.Parts[i])); err != nil {
				return "", fmt.Errorf("remove part: %w", err)
			}
		}
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Remove(recordPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return target, nil
}

func appendPart(dst io.Writer, path string, buf []byte) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open part: %w", err)
	}
	defer src.Close()
	n, err := io.CopyBuffer(dst, src, buf)
	if err != nil {
		return n, fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
