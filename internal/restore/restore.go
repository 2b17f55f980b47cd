// Package restore rebuilds segment trees from the archives segbkp writes.
//
// Each archive goes through Discover, Combine, Extract, Classify, Place and
// Cleanup in turn. Archives are processed one at a time; a failure stops
// that archive only.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bamsammich/segbkp/internal/filter"
	"github.com/bamsammich/segbkp/internal/source"
)

// scratchPrefix names the extraction directory under the restore root.
const scratchPrefix = ".segbkp-extract-"

// Options configures a restore.
type Options struct {
	Logger      *slog.Logger
	ArchiveDir  string
	RestoreRoot string
	// KeepSources leaves parts and complete archives in place so the restore
	// can be run again. Archives combined from parts are removed after
	// extraction instead.
	KeepSources bool
}

// ArchiveResult is the outcome for one archive.
type ArchiveResult struct {
	Err         error
	Name        string
	Destination string
	Conflicts   []Conflict
	Kind        Kind
	Duration    time.Duration
}

// Report collects the per-archive outcomes.
type Report struct {
	Archives []ArchiveResult
}

// Failed returns the number of archives that could not be restored.
func (r Report) Failed() int {
	n := 0
	for _, a := range r.Archives {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// Restore restores every archive in opts.ArchiveDir under opts.RestoreRoot.
// The returned error is set only when the directories themselves are
// unusable or ctx is cancelled.
func Restore(ctx context.Context, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	archiveDir, err := filepath.Abs(opts.ArchiveDir)
	if err != nil {
		return Report{}, err
	}
	root, err := filepath.Abs(opts.RestoreRoot)
	if err != nil {
		return Report{}, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Report{}, fmt.Errorf("create restore root: %w", err)
	}

	groups, err := Discover(archiveDir)
	if err != nil {
		return Report{}, err
	}

	buf := make([]byte, source.BufferSize)
	var report Report
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		start := time.Now()
		res := restoreOne(ctx, archiveDir, root, g, opts.KeepSources, buf, logger)
		res.Duration = time.Since(start)
		report.Archives = append(report.Archives, res)

		switch {
		case res.Err != nil:
			logger.Error("restore failed", "archive", g.Base, "error", res.Err)
		default:
			for _, c := range res.Conflicts {
				logger.Warn("restore conflict left in place", "archive", g.Base, "path", c.Path, "error", c)
			}
			logger.Info("archive restored",
				"archive", g.Base,
				"destination", res.Destination,
				"kind", res.Kind.String(),
				"duration", res.Duration,
			)
		}
	}
	return report, nil
}

func restoreOne(ctx context.Context, archiveDir, root string, g Group, keep bool, buf []byte, logger *slog.Logger) ArchiveResult {
	res := ArchiveResult{Name: g.Name()}

	combined, err := Combine(archiveDir, g, keep, buf)
	if err != nil {
		res.Err = fmt.Errorf("combine: %w", err)
		return res
	}

	scratch := filepath.Join(root, scratchPrefix+g.Base)
	extracted, err := Extract(ctx, combined, scratch, buf, logger)
	if err != nil {
		res.Err = fmt.Errorf("extract: %w", err)
		return res
	}
	defer removeScratch(scratch) //nolint:errcheck // cleanup

	dest, err := destination(root, extracted.Marker)
	if err != nil {
		res.Err = err
		return res
	}
	res.Destination = dest

	kind, err := Classify(scratch, dest)
	if err != nil {
		res.Err = err
		return res
	}
	res.Kind = kind

	conflicts, err := Place(scratch, dest, kind)
	res.Conflicts = conflicts
	if err != nil {
		res.Err = fmt.Errorf("place: %w", err)
		return res
	}
	if kind == DirSegment {
		if err := ApplyDirAttrs(dest, extracted.Dirs); err != nil {
			res.Err = fmt.Errorf("apply directory attributes: %w", err)
			return res
		}
	}

	// Cleanup. With keep, a complete archive that was never split stays;
	// one rebuilt from parts goes since the parts remain.
	if !keep || len(g.Parts) > 0 {
		if err := os.Remove(combined); err != nil && !errors.Is(err, os.ErrNotExist) {
			res.Err = fmt.Errorf("remove archive: %w", err)
		}
	}
	return res
}

// destination resolves the marker path under root. Absolute markers (no
// root_path at backup time) are re-rooted.
func destination(root, marker string) (string, error) {
	if marker == "" {
		return "", errors.New("empty marker record")
	}
	dest := filepath.Join(root, filepath.FromSlash(marker))
	if !filter.Within(dest, root) {
		return "", fmt.Errorf("marker %q escapes restore root", marker)
	}
	return dest, nil
}
