package restore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, scratch string)
		dest  string
		want  Kind
	}{
		{
			name:  "single matching file",
			setup: func(t *testing.T, s string) { writeFile(t, filepath.Join(s, "bar.txt"), "x") },
			dest:  "/r/foo/bar.txt",
			want:  FileSegment,
		},
		{
			name:  "single file with other name",
			setup: func(t *testing.T, s string) { writeFile(t, filepath.Join(s, "baz.txt"), "x") },
			dest:  "/r/foo/bar.txt",
			want:  DirSegment,
		},
		{
			name: "single matching directory",
			setup: func(t *testing.T, s string) {
				require.NoError(t, os.Mkdir(filepath.Join(s, "docs"), 0o755))
			},
			dest: "/r/docs",
			want: DirSegment,
		},
		{
			name: "two entries",
			setup: func(t *testing.T, s string) {
				writeFile(t, filepath.Join(s, "bar.txt"), "x")
				writeFile(t, filepath.Join(s, "other"), "y")
			},
			dest: "/r/foo/bar.txt",
			want: DirSegment,
		},
		{
			name:  "empty",
			setup: func(*testing.T, string) {},
			dest:  "/r/empty",
			want:  DirSegment,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := t.TempDir()
			tt.setup(t, scratch)
			got, err := Classify(scratch, tt.dest)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlace_FileSegmentCreatesParents(t *testing.T) {
	scratch := t.TempDir()
	writeFile(t, filepath.Join(scratch, "bar.txt"), "new")
	dest := filepath.Join(t.TempDir(), "foo", "bar.txt")

	conflicts, err := Place(scratch, dest, FileSegment)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestPlace_FileOntoDirectoryConflicts(t *testing.T) {
	scratch := t.TempDir()
	writeFile(t, filepath.Join(scratch, "bar"), "new")
	dest := filepath.Join(t.TempDir(), "bar")
	require.NoError(t, os.Mkdir(dest, 0o755))

	conflicts, err := Place(scratch, dest, FileSegment)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, dest, conflicts[0].Path)
	assert.DirExists(t, dest)
}

func TestPlace_DirectoryMerge(t *testing.T) {
	scratch := t.TempDir()
	writeFile(t, filepath.Join(scratch, "new.txt"), "new")
	writeFile(t, filepath.Join(scratch, "shared", "a.txt"), "archived")
	writeFile(t, filepath.Join(scratch, "kind"), "file in archive")

	dest := t.TempDir()
	writeFile(t, filepath.Join(dest, "shared", "a.txt"), "stale")
	writeFile(t, filepath.Join(dest, "shared", "keep.txt"), "keep")
	writeFile(t, filepath.Join(dest, "kind", "inner"), "dir on disk")

	conflicts, err := Place(scratch, dest, DirSegment)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, filepath.Join(dest, "kind"), conflicts[0].Path)
	assert.Contains(t, conflicts[0].Error(), "conflicts with existing directory")

	assert.Equal(t, map[string]string{
		"new.txt":         "new",
		"shared":          "<dir>",
		"shared/a.txt":    "archived",
		"shared/keep.txt": "keep",
		"kind":            "<dir>",
		"kind/inner":      "dir on disk",
	}, snapshot(t, dest))
}

func TestPlace_DirectoryOntoFileConflicts(t *testing.T) {
	scratch := t.TempDir()
	writeFile(t, filepath.Join(scratch, "a"), "x")
	dest := filepath.Join(t.TempDir(), "docs")
	writeFile(t, dest, "a file")

	conflicts, err := Place(scratch, dest, DirSegment)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "directory", conflicts[0].Want)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "file", FileSegment.String())
	assert.Equal(t, "dir", DirSegment.String())
}
