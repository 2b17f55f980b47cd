package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/segbkp/internal/segment"
	"github.com/bamsammich/segbkp/internal/source"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func resolve(t *testing.T, root string) []segment.Entry {
	t.Helper()
	r, err := segment.NewResolver([]segment.Segment{{Name: "seg", Root: root}}, nil)
	require.NoError(t, err)
	res, err := r.Resolve("seg")
	require.NoError(t, err)
	return res.Entries
}

func digest(t *testing.T, root string) string {
	t.Helper()
	d, err := Compute(context.Background(), resolve(t, root), nil)
	require.NoError(t, err)
	return d
}

func TestCompute_Stable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "bravo")
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	first := digest(t, root)
	second := digest(t, root)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestCompute_OneByteFlip(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "data.bin")
	writeFile(t, path, "0123456789")
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	before := digest(t, root)

	writeFile(t, path, "0123456788")
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	after := digest(t, root)
	assert.NotEqual(t, before, after, "same size and mtime, different content")
}

func TestCompute_MetadataChanges(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f")
	writeFile(t, path, "x")
	before := digest(t, root)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.NotEqual(t, before, digest(t, root), "mtime change")
}

func TestCompute_RenameChangesDigest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old"), "same")
	before := digest(t, root)

	require.NoError(t, os.Rename(filepath.Join(root, "old"), filepath.Join(root, "new")))
	assert.NotEqual(t, before, digest(t, root))
}

func TestCompute_SymlinkTarget(t *testing.T) {
	root := t.TempDir()
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink("one", link))
	before := digest(t, root)

	require.NoError(t, os.Remove(link))
	require.NoError(t, os.Symlink("two", link))
	assert.NotEqual(t, before, digest(t, root))
}

func TestCompute_UnreadableFileFails(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone")
	writeFile(t, path, "data")
	entries := resolve(t, root)

	require.NoError(t, os.Remove(path))
	_, err := Compute(context.Background(), entries, nil)
	require.Error(t, err)
}

func TestCompute_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f"), "data")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compute(ctx, resolve(t, root), source.NewOpener(0))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompute_Empty(t *testing.T) {
	d1, err := Compute(context.Background(), nil, nil)
	require.NoError(t, err)
	d2, err := Compute(context.Background(), []segment.Entry{}, nil)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
