package restore

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bamsammich/segbkp/internal/archive"
)

// ErrNoMarker is returned for an archive without a marker record: it was
// not produced by segbkp, or it is corrupt.
var ErrNoMarker = errors.New("archive has no marker record")

// openArchiveReader opens a gzip-compressed tar. Close the returned closers
// in reverse order.
func openArchiveReader(filePath string) (*tar.Reader, []io.Closer, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("gzip reader: %w", err)
	}
	return tar.NewReader(gz), []io.Closer{file, gz}, nil
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close() //nolint:errcheck // read side
	}
}

// DirAttrs are the archived attributes of one directory entry. They are
// applied at the destination once the payload has been placed, so scratch
// directories stay writable while entries are moved out of them.
type DirAttrs struct {
	ModTime time.Time
	Rel     string // slash path relative to the segment root
	Mode    os.FileMode
	UID     int
	GID     int
}

// Extracted is the result of decoding one archive into scratch.
type Extracted struct {
	Marker string
	// Dirs is ordered deepest first.
	Dirs []DirAttrs
}

// Extract decodes archivePath into scratch. A stale scratch directory is
// removed first. On error scratch is removed.
//
// All writes go through an os.Root on scratch: entry names that climb out
// of it, and symlinks planted by earlier entries that point outside it, are
// rejected.
func Extract(ctx context.Context, archivePath, scratch string, buf []byte, logger *slog.Logger) (Extracted, error) {
	if err := removeScratch(scratch); err != nil {
		return Extracted{}, fmt.Errorf("remove stale scratch: %w", err)
	}
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return Extracted{}, fmt.Errorf("create scratch: %w", err)
	}
	root, err := os.OpenRoot(scratch)
	if err != nil {
		return Extracted{}, fmt.Errorf("open scratch: %w", err)
	}
	defer root.Close()

	out, err := extract(ctx, archivePath, root, buf, logger)
	if err != nil {
		removeScratch(scratch) //nolint:errcheck // best effort
		return Extracted{}, err
	}
	return out, nil
}

func extract(ctx context.Context, archivePath string, root *os.Root, buf []byte, logger *slog.Logger) (Extracted, error) {
	tr, closers, err := openArchiveReader(archivePath)
	if err != nil {
		return Extracted{}, err
	}
	defer closeAll(closers)

	var (
		out       Extracted
		hasMarker bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return Extracted{}, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Extracted{}, fmt.Errorf("read tar entry: %w", err)
		}

		if path.Clean(hdr.Name) == archive.MarkerName && hdr.Typeflag == tar.TypeReg {
			if hdr.Size > archive.MaxMarkerSize {
				return Extracted{}, fmt.Errorf("marker record too large: %d bytes", hdr.Size)
			}
			data, err := io.ReadAll(io.LimitReader(tr, archive.MaxMarkerSize))
			if err != nil {
				return Extracted{}, fmt.Errorf("read marker: %w", err)
			}
			out.Marker = strings.TrimSpace(string(data))
			hasMarker = true
			continue
		}

		name, err := localName(hdr.Name)
		if err != nil {
			return Extracted{}, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := root.MkdirAll(name, 0o700); err != nil {
				return Extracted{}, fmt.Errorf("create directory %s: %w", hdr.Name, err)
			}
			if name == "." {
				break
			}
			out.Dirs = append(out.Dirs, DirAttrs{
				Rel:     filepath.ToSlash(name),
				Mode:    hdr.FileInfo().Mode().Perm(),
				ModTime: hdr.ModTime,
				UID:     hdr.Uid,
				GID:     hdr.Gid,
			})
		case tar.TypeReg:
			if err := extractFile(root, tr, name, hdr, buf); err != nil {
				return Extracted{}, err
			}
		case tar.TypeSymlink:
			if err := mkdirParent(root, name); err != nil {
				return Extracted{}, fmt.Errorf("create directory for %s: %w", hdr.Name, err)
			}
			if err := root.Symlink(hdr.Linkname, name); err != nil {
				return Extracted{}, fmt.Errorf("create symlink %s: %w", hdr.Name, err)
			}
			if os.Geteuid() == 0 {
				root.Lchown(name, hdr.Uid, hdr.Gid) //nolint:errcheck // best effort
			}
		default:
			logger.Warn("skipping unsupported archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}

	if !hasMarker {
		return Extracted{}, ErrNoMarker
	}
	slices.SortStableFunc(out.Dirs, func(a, b DirAttrs) int {
		return strings.Count(b.Rel, "/") - strings.Count(a.Rel, "/")
	})
	return out, nil
}

// localName cleans an entry name and rejects absolute names and names that
// climb out of the extraction root.
func localName(name string) (string, error) {
	clean := filepath.FromSlash(path.Clean(strings.TrimSuffix(name, "/")))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return clean, nil
}

func mkdirParent(root *os.Root, name string) error {
	if dir := filepath.Dir(name); dir != "." {
		return root.MkdirAll(dir, 0o700)
	}
	return nil
}

func extractFile(root *os.Root, r io.Reader, name string, hdr *tar.Header, buf []byte) error {
	if err := mkdirParent(root, name); err != nil {
		return fmt.Errorf("create directory for %s: %w", hdr.Name, err)
	}
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", hdr.Name, err)
	}
	if _, err := io.CopyBuffer(f, io.LimitReader(r, hdr.Size), buf); err != nil {
		f.Close()
		return fmt.Errorf("extract %s: %w", hdr.Name, err)
	}
	if os.Geteuid() == 0 {
		f.Chown(hdr.Uid, hdr.Gid) //nolint:errcheck // best effort
	}
	if err := f.Chmod(hdr.FileInfo().Mode().Perm()); err != nil {
		f.Close()
		return fmt.Errorf("chmod %s: %w", hdr.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", hdr.Name, err)
	}
	if err := root.Chtimes(name, hdr.ModTime, hdr.ModTime); err != nil {
		return fmt.Errorf("set times %s: %w", hdr.Name, err)
	}
	return nil
}

// ApplyDirAttrs sets the archived mode, mtime and (as root) ownership on the
// directories placed under dest. Directories that were not placed, such as
// kind conflicts, are left alone.
func ApplyDirAttrs(dest string, dirs []DirAttrs) error {
	for _, d := range dirs {
		p := filepath.Join(dest, filepath.FromSlash(d.Rel))
		st, err := os.Lstat(p)
		if err != nil || !st.IsDir() {
			continue
		}
		if os.Geteuid() == 0 {
			os.Lchown(p, d.UID, d.GID) //nolint:errcheck // best effort
		}
		if err := os.Chmod(p, d.Mode); err != nil {
			return fmt.Errorf("chmod %s: %w", p, err)
		}
		if err := os.Chtimes(p, d.ModTime, d.ModTime); err != nil {
			return fmt.Errorf("set times %s: %w", p, err)
		}
	}
	return nil
}

// removeScratch removes a scratch tree, first giving the owner write access
// to every directory in it so read-only directories left by an older or
// interrupted run can be emptied.
func removeScratch(dir string) error {
	if _, err := os.Lstat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	// Walk errors are ignored: RemoveAll reports what could not be removed.
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			if info, ierr := d.Info(); ierr == nil && info.Mode().Perm()&0o700 != 0o700 {
				os.Chmod(p, info.Mode().Perm()|0o700) //nolint:errcheck // best effort
			}
		}
		return nil
	})
	return os.RemoveAll(dir)
}
