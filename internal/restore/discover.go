package restore

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/bamsammich/segbkp/internal/archive"
)

var partRe = regexp.MustCompile(`^(.+\.tar\.gz)\.part(\d+)$`)

// Group is one archive found in the archive directory: a complete file,
// a set of parts, or both (an interrupted combine).
type Group struct {
	Base     string // file name of the complete archive, e.g. docs.tar.gz
	Parts    []string
	Indexes  []int
	Complete bool // Base exists on disk
}

// Discover groups the archive files in dir by base name. Parts are sorted
// by numeric suffix. Groups are returned sorted by base name.
func Discover(dir string) ([]Group, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	byBase := make(map[string]*Group)
	get := func(base string) *Group {
		g, ok := byBase[base]
		if !ok {
			g = &Group{Base: base}
			byBase[base] = g
		}
		return g
	}

	type part struct {
		name  string
		index int
	}
	parts := make(map[string][]part)

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if m := partRe.FindStringSubmatch(name); m != nil {
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			get(m[1])
			parts[m[1]] = append(parts[m[1]], part{name: name, index: idx})
			continue
		}
		if strings.HasSuffix(name, archive.Ext) && name != archive.Ext {
			get(name).Complete = true
		}
	}

	out := make([]Group, 0, len(byBase))
	for base, g := range byBase {
		ps := parts[base]
		slices.SortFunc(ps, func(a, b part) int { return a.index - b.index })
		for _, p := range ps {
			g.Parts = append(g.Parts, p.name)
			g.Indexes = append(g.Indexes, p.index)
		}
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b Group) int { return strings.Compare(a.Base, b.Base) })
	return out, nil
}

// Name returns the segment name of the group.
func (g Group) Name() string {
	return strings.TrimSuffix(g.Base, archive.Ext)
}

// checkContiguous reports the first part number missing from the run that
// starts at first.
func (g Group) checkContiguous(first int) error {
	want := first
	for _, idx := range g.Indexes {
		if idx != want {
			return fmt.Errorf("%w: %s", ErrMissingPart, archive.PartPath(g.Base, want))
		}
		want++
	}
	return nil
}
