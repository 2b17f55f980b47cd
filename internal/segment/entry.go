package segment

import (
	"os"
	"time"
)

// EntryType identifies the kind of filesystem entry.
type EntryType int

const (
	Regular EntryType = iota
	Dir
	Symlink
)

func (t EntryType) String() string {
	switch t {
	case Regular:
		return "file"
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Entry is one filesystem entry included in a segment.
type Entry struct {
	Path       string    // absolute path on disk
	RelPath    string    // slash-separated, relative to the segment root
	LinkTarget string    // symlinks only
	ModTime    time.Time
	Info       os.FileInfo
	Size       int64
	Mode       os.FileMode
	Type       EntryType
}

// Segment is a named unit of backup.
type Segment struct {
	Name string
	Root string
}
