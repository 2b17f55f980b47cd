// Package segment resolves which filesystem entries belong to each segment.
//
// A path that lies under another segment's root belongs to that segment and
// is left out of every ancestor segment, regardless of declaration order.
package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bamsammich/segbkp/internal/filter"
)

// ErrUnknownSegment is returned when resolving a name that was never declared.
var ErrUnknownSegment = errors.New("unknown segment")

// EntryError records a single entry that could not be read during a walk.
type EntryError struct {
	Path string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Result is the resolved file set of one segment.
type Result struct {
	Segment Segment
	Entries []Entry
	Errors  []*EntryError
	// RootIsFile is set for segments whose root is a single file.
	RootIsFile bool
}

// Resolver computes resolved file sets for a fixed list of segments.
type Resolver struct {
	ignore   *filter.Chain
	byName   map[string]Segment
	segments []Segment // sorted by name
}

// NewResolver validates the segment list. Roots are made absolute and
// cleaned; duplicate names or roots are rejected.
func NewResolver(segments []Segment, ignore *filter.Chain) (*Resolver, error) {
	r := &Resolver{
		ignore: ignore,
		byName: make(map[string]Segment, len(segments)),
	}
	roots := make(map[string]string, len(segments))
	for _, seg := range segments {
		root, err := filepath.Abs(seg.Root)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg.Name, err)
		}
		seg.Root = root
		if _, dup := r.byName[seg.Name]; dup {
			return nil, fmt.Errorf("duplicate segment name %q", seg.Name)
		}
		if other, dup := roots[root]; dup {
			return nil, fmt.Errorf("segments %q and %q share root %s", other, seg.Name, root)
		}
		roots[root] = seg.Name
		r.byName[seg.Name] = seg
		r.segments = append(r.segments, seg)
	}
	slices.SortFunc(r.segments, func(a, b Segment) int { return strings.Compare(a.Name, b.Name) })
	return r, nil
}

// Segments returns the segments in processing (name) order.
func (r *Resolver) Segments() []Segment {
	return slices.Clone(r.segments)
}

// Exclusions returns the roots of other segments lying strictly under the
// named segment's root.
func (r *Resolver) Exclusions(name string) []string {
	seg, ok := r.byName[name]
	if !ok {
		return nil
	}
	var out []string
	for _, other := range r.segments {
		if other.Name != seg.Name && filter.Within(other.Root, seg.Root) {
			out = append(out, other.Root)
		}
	}
	return out
}

// ResolveAll resolves every segment. Prefer Resolve for large trees: this
// keeps every segment's entry list in memory at once.
func (r *Resolver) ResolveAll() (map[string]Result, error) {
	out := make(map[string]Result, len(r.segments))
	for _, seg := range r.segments {
		res, err := r.Resolve(seg.Name)
		if err != nil {
			return nil, err
		}
		out[seg.Name] = res
	}
	return out, nil
}

// Resolve walks one segment and returns its entries in lexicographic,
// directory-before-contents order. Unreadable entries are recorded in
// Result.Errors and skipped. An unreadable root is returned as an error.
func (r *Resolver) Resolve(name string) (Result, error) {
	seg, ok := r.byName[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSegment, name)
	}
	res := Result{Segment: seg}

	// The root itself is followed; nothing below it is.
	info, err := os.Stat(seg.Root)
	if err != nil {
		return res, fmt.Errorf("segment %s root: %w", seg.Name, err)
	}

	w := walker{
		ignore:     r.ignore,
		exclusions: r.Exclusions(name),
		res:        &res,
	}

	if !info.IsDir() {
		res.RootIsFile = true
		if w.ignore.Ignored(seg.Root, false) {
			return res, nil
		}
		entry, ok, err := entryFor(seg.Root, path.Base(filepath.ToSlash(seg.Root)), info)
		if err != nil {
			res.Errors = append(res.Errors, &EntryError{Path: seg.Root, Err: err})
		} else if ok {
			res.Entries = append(res.Entries, entry)
		}
		return res, nil
	}

	w.walkDir(seg.Root, "")
	return res, nil
}

type walker struct {
	ignore     *filter.Chain
	res        *Result
	exclusions []string
}

func (w *walker) walkDir(dirPath, relDir string) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		w.fail(dirPath, fmt.Errorf("readdir: %w", err))
		return
	}

	// os.ReadDir returns entries sorted by name.
	for _, de := range entries {
		entryPath := filepath.Join(dirPath, de.Name())
		relPath := de.Name()
		if relDir != "" {
			relPath = relDir + "/" + de.Name()
		}

		if w.excluded(entryPath) {
			continue
		}

		info, err := os.Lstat(entryPath)
		if err != nil {
			w.fail(entryPath, fmt.Errorf("lstat: %w", err))
			continue
		}
		if w.ignore.Ignored(entryPath, info.IsDir()) {
			continue
		}

		entry, ok, err := entryFor(entryPath, relPath, info)
		if err != nil {
			w.fail(entryPath, err)
			continue
		}
		if !ok {
			continue
		}
		w.res.Entries = append(w.res.Entries, entry)

		if entry.Type == Dir {
			w.walkDir(entryPath, relPath)
		}
	}
}

func (w *walker) excluded(p string) bool {
	for _, root := range w.exclusions {
		if filter.Within(p, root) {
			return true
		}
	}
	return false
}

func (w *walker) fail(p string, err error) {
	w.res.Errors = append(w.res.Errors, &EntryError{Path: p, Err: err})
}

// entryFor builds an Entry from lstat info. ok is false for entry kinds
// that are never archived (devices, sockets, FIFOs).
func entryFor(absPath, relPath string, info fs.FileInfo) (Entry, bool, error) {
	mode := info.Mode()
	entry := Entry{
		Path:    absPath,
		RelPath: relPath,
		ModTime: info.ModTime(),
		Info:    info,
		Mode:    mode,
	}

	switch {
	case mode.IsDir():
		entry.Type = Dir
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(absPath)
		if err != nil {
			return Entry{}, false, fmt.Errorf("readlink: %w", err)
		}
		entry.Type = Symlink
		entry.LinkTarget = target
	case mode.IsRegular():
		entry.Type = Regular
		entry.Size = info.Size()
	default:
		return Entry{}, false, nil
	}
	return entry, true, nil
}
