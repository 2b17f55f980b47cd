package restore

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/rand"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/segbkp/internal/archive"
	"github.com/bamsammich/segbkp/internal/segment"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// snapshot maps every path under root to its content ("<dir>" for directories).
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			out[rel] = "<dir>"
			return nil
		}
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func archiveSegment(t *testing.T, outDir, name, root, marker string, maxPart int64) []archive.Part {
	t.Helper()
	r, err := segment.NewResolver([]segment.Segment{{Name: name, Root: root}}, nil)
	require.NoError(t, err)
	res, err := r.Resolve(name)
	require.NoError(t, err)

	out, err := archive.Archive(context.Background(), archive.Request{
		Name:         name,
		OutputDir:    outDir,
		Marker:       marker,
		Entries:      res.Entries,
		MaxPartBytes: maxPart,
		Level:        6,
	})
	require.NoError(t, err)
	return out.Parts
}

// tarEntry is one entry for writeTar. Content is used for regular files.
type tarEntry struct {
	hdr     tar.Header
	content string
}

func regEntry(name, content string) tarEntry {
	return tarEntry{hdr: tar.Header{Typeflag: tar.TypeReg, Name: name, Mode: 0o644, Size: int64(len(content))}, content: content}
}

// writeTar writes entries, in order, as a gzip-compressed tar.
func writeTar(t *testing.T, path string, entries ...tarEntry) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := e.hdr
		require.NoError(t, tw.WriteHeader(&hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeRawArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var entries []tarEntry
	for name, content := range files {
		entries = append(entries, regEntry(name, content))
	}
	writeTar(t, path, entries...)
}

func TestRestore_FileSegment(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bar.txt"), "bar contents")
	archives := t.TempDir()
	archiveSegment(t, archives, "bar", filepath.Join(src, "bar.txt"), "foo/bar.txt", 0)

	root := t.TempDir()
	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: root})
	require.NoError(t, err)
	require.Len(t, report.Archives, 1)
	require.NoError(t, report.Archives[0].Err)
	assert.Equal(t, FileSegment, report.Archives[0].Kind)

	assert.Equal(t, map[string]string{
		"foo":         "<dir>",
		"foo/bar.txt": "bar contents",
	}, snapshot(t, root))
	assert.NoFileExists(t, filepath.Join(archives, "bar.tar.gz"))
}

func TestRestore_SplitDirectorySegment(t *testing.T) {
	src := t.TempDir()
	data := bytes.Repeat([]byte("0123456789abcdef"), 8192)
	writeFile(t, filepath.Join(src, "a.bin"), string(data))
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "bravo")
	require.NoError(t, os.Mkdir(filepath.Join(src, "empty"), 0o755))
	require.NoError(t, os.Symlink("a.bin", filepath.Join(src, "link")))

	archives := t.TempDir()
	parts := archiveSegment(t, archives, "docs", src, "home/docs", 64)
	require.Greater(t, len(parts), 1)

	root := t.TempDir()
	// Existing content not in the archive must survive; stale copies of
	// archived files are replaced.
	writeFile(t, filepath.Join(root, "home", "docs", "local.txt"), "mine")
	writeFile(t, filepath.Join(root, "home", "docs", "sub", "b.txt"), "old")

	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: root})
	require.NoError(t, err)
	require.Len(t, report.Archives, 1)
	require.NoError(t, report.Archives[0].Err)
	assert.Equal(t, DirSegment, report.Archives[0].Kind)
	assert.Equal(t, 0, report.Failed())

	dest := filepath.Join(root, "home", "docs")
	got := snapshot(t, dest)
	assert.Equal(t, string(data), got["a.bin"])
	assert.Equal(t, "bravo", got["sub/b.txt"])
	assert.Equal(t, "mine", got["local.txt"])
	assert.Equal(t, "<dir>", got["empty"])

	target, err := os.Readlink(filepath.Join(dest, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.bin", target)

	remaining, err := os.ReadDir(archives)
	require.NoError(t, err)
	assert.Empty(t, remaining, "parts and combined archive are consumed")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no scratch directory left behind")
}

func TestRestore_IdempotentWithKeepSources(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "one.txt"), string(bytes.Repeat([]byte("one "), 2000)))
	writeFile(t, filepath.Join(src, "d", "two.txt"), "two")
	file := filepath.Join(t.TempDir(), "single.cfg")
	writeFile(t, file, "k=v")

	archives := t.TempDir()
	archiveSegment(t, archives, "tree", src, "tree", 512)
	archiveSegment(t, archives, "single", file, "etc/single.cfg", 0)
	before := snapshot(t, archives)

	root := t.TempDir()
	opts := Options{ArchiveDir: archives, RestoreRoot: root, KeepSources: true}

	first, err := Restore(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 0, first.Failed())
	afterFirst := snapshot(t, root)

	second, err := Restore(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 0, second.Failed())

	assert.Equal(t, afterFirst, snapshot(t, root))
	assert.Equal(t, before, snapshot(t, archives), "sources untouched")
	assert.Equal(t, "k=v", afterFirst["etc/single.cfg"])
	assert.Equal(t, "two", afterFirst["tree/d/two.txt"])
}

func TestRestore_MissingMarker(t *testing.T) {
	archives := t.TempDir()
	writeRawArchive(t, filepath.Join(archives, "alien.tar.gz"), map[string]string{"x.txt": "x"})
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "ok.txt"), "ok")
	archiveSegment(t, archives, "good", src, "good", 0)

	root := t.TempDir()
	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: root})
	require.NoError(t, err)
	require.Len(t, report.Archives, 2)
	assert.Equal(t, 1, report.Failed())

	assert.Equal(t, "alien", report.Archives[0].Name)
	require.ErrorIs(t, report.Archives[0].Err, ErrNoMarker)
	require.NoError(t, report.Archives[1].Err)

	assert.Equal(t, map[string]string{"good": "<dir>", "good/ok.txt": "ok"}, snapshot(t, root))
	assert.FileExists(t, filepath.Join(archives, "alien.tar.gz"), "failed archive is kept")
}

func TestRestore_MarkerEscapingRoot(t *testing.T) {
	archives := t.TempDir()
	writeRawArchive(t, filepath.Join(archives, "evil.tar.gz"), map[string]string{
		archive.MarkerName: "../../outside",
		"x.txt":            "x",
	})

	root := t.TempDir()
	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: root})
	require.NoError(t, err)
	require.Len(t, report.Archives, 1)
	require.Error(t, report.Archives[0].Err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestore_EntryEscapingScratch(t *testing.T) {
	archives := t.TempDir()
	writeRawArchive(t, filepath.Join(archives, "evil.tar.gz"), map[string]string{
		archive.MarkerName: "evil",
		"../../x.txt":      "x",
	})

	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: t.TempDir()})
	require.NoError(t, err)
	require.Error(t, report.Archives[0].Err)
}

func TestRestore_SymlinkEntryEscapingScratch(t *testing.T) {
	outside := t.TempDir()
	archives := t.TempDir()
	writeTar(t, filepath.Join(archives, "evil.tar.gz"),
		regEntry(archive.MarkerName, "evil"),
		tarEntry{hdr: tar.Header{Typeflag: tar.TypeSymlink, Name: "link", Linkname: outside, Mode: 0o777}},
		regEntry("link/pwned", "x"),
	)

	root := t.TempDir()
	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: root})
	require.NoError(t, err)
	require.Len(t, report.Archives, 1)
	require.Error(t, report.Archives[0].Err)

	assert.NoFileExists(t, filepath.Join(outside, "pwned"))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch removed")
}

func TestRestore_ReadOnlyDirectoryTwiceWithKeepSources(t *testing.T) {
	mtime := time.Unix(1_600_000_000, 0)
	archives := t.TempDir()
	writeTar(t, filepath.Join(archives, "data.tar.gz"),
		regEntry(archive.MarkerName, "data"),
		tarEntry{hdr: tar.Header{Typeflag: tar.TypeDir, Name: "ro/", Mode: 0o555, ModTime: mtime}},
		regEntry("ro/f", "contents"),
	)

	root := t.TempDir()
	ro := filepath.Join(root, "data", "ro")
	t.Cleanup(func() { os.Chmod(ro, 0o755) }) //nolint:errcheck // let TempDir cleanup remove it
	opts := Options{ArchiveDir: archives, RestoreRoot: root, KeepSources: true}

	for run := range 2 {
		report, err := Restore(context.Background(), opts)
		require.NoError(t, err)
		require.Len(t, report.Archives, 1)
		require.NoError(t, report.Archives[0].Err, "run %d", run+1)

		st, err := os.Stat(ro)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o555), st.Mode().Perm())
		assert.True(t, st.ModTime().Equal(mtime), "directory mtime restored")

		data, err := os.ReadFile(filepath.Join(ro, "f"))
		require.NoError(t, err)
		assert.Equal(t, "contents", string(data))

		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		require.Len(t, entries, 1, "no scratch directory left behind")
	}
	assert.FileExists(t, filepath.Join(archives, "data.tar.gz"))
}

func TestRemoveScratch_ReadOnlyTree(t *testing.T) {
	scratch := filepath.Join(t.TempDir(), "scratch")
	writeFile(t, filepath.Join(scratch, "ro", "inner", "f"), "x")
	require.NoError(t, os.Chmod(filepath.Join(scratch, "ro", "inner"), 0o555))
	require.NoError(t, os.Chmod(filepath.Join(scratch, "ro"), 0o500))

	require.NoError(t, removeScratch(scratch))
	assert.NoDirExists(t, scratch)
	require.NoError(t, removeScratch(scratch), "missing scratch is not an error")
}

func TestRestore_MissingMiddlePart(t *testing.T) {
	src := t.TempDir()
	blob := make([]byte, 300*1024)
	_, err := rand.Read(blob)
	require.NoError(t, err)
	writeFile(t, filepath.Join(src, "blob.bin"), string(blob))

	archives := t.TempDir()
	parts := archiveSegment(t, archives, "big", src, "big", 100*1024)
	require.GreaterOrEqual(t, len(parts), 3)
	require.NoError(t, os.Remove(parts[1].Path))

	root := t.TempDir()
	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: root})
	require.NoError(t, err)
	require.Len(t, report.Archives, 1)
	require.ErrorIs(t, report.Archives[0].Err, ErrMissingPart)

	assert.FileExists(t, parts[0].Path, "parts kept for a later retry")
	assert.FileExists(t, parts[2].Path)
	assert.NoFileExists(t, filepath.Join(archives, "big.tar.gz"))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestore_ResumesCombinedArchive(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "f.txt"), string(bytes.Repeat([]byte("resume "), 1000)))
	archives := t.TempDir()
	parts := archiveSegment(t, archives, "r", src, "r", 300)
	require.Greater(t, len(parts), 1)

	// First pass combines only.
	groups, err := Discover(archives)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	_, err = Combine(archives, groups[0], false, make([]byte, 4096))
	require.NoError(t, err)

	root := t.TempDir()
	report, err := Restore(context.Background(), Options{ArchiveDir: archives, RestoreRoot: root})
	require.NoError(t, err)
	require.NoError(t, report.Archives[0].Err)
	assert.Equal(t, string(bytes.Repeat([]byte("resume "), 1000)), snapshot(t, root)["r/f.txt"])
}

func TestDestination(t *testing.T) {
	root := "/restore"
	tests := []struct {
		marker  string
		want    string
		wantErr bool
	}{
		{"foo/bar.txt", "/restore/foo/bar.txt", false},
		{"/abs/path", "/restore/abs/path", false},
		{".", "/restore", false},
		{"a/../b", "/restore/b", false},
		{"../x", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.marker, func(t *testing.T) {
			got, err := destination(root, tt.marker)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
