// Package engine runs one backup: every segment, in name order, through
// resolve, fingerprint, archive (or skip), scripts and commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/segbkp/internal/archive"
	"github.com/bamsammich/segbkp/internal/event"
	"github.com/bamsammich/segbkp/internal/filter"
	"github.com/bamsammich/segbkp/internal/fingerprint"
	"github.com/bamsammich/segbkp/internal/script"
	"github.com/bamsammich/segbkp/internal/segment"
	"github.com/bamsammich/segbkp/internal/source"
	"github.com/bamsammich/segbkp/internal/stats"
)

// Config describes a backup run.
type Config struct {
	Logger *slog.Logger
	Ignore *filter.Chain
	Stats  *stats.Collector
	// Events, if set, receives every Run Log event. The engine never closes it.
	Events chan<- event.Event
	// ScriptOutput receives script stdout and stderr (default os.Stderr).
	ScriptOutput io.Writer
	RunID        string
	OutputDir    string
	// RootPath is the base markers are made relative to. Empty stores
	// absolute segment roots.
	RootPath   string
	PostScript string
	SkipScript string
	// HashFile selects the fingerprint store; empty keeps fingerprints in
	// memory for this run only.
	HashFile     string
	Segments     []segment.Segment
	MaxPartBytes int64
	Level        int
	// BWLimit caps source reads in bytes per second (0 = unlimited).
	BWLimit int64
}

// Result is the outcome of a run.
type Result struct {
	Err error
	// Aborted is set when a script exit in the panic tier stopped the run.
	Aborted *script.AbortError
	RunID   string
	// Failed lists segments that were not archived.
	Failed []string
	Stats  stats.Snapshot
}

type runner struct {
	logger    *slog.Logger
	events    chan<- event.Event
	stats     *stats.Collector
	resolver  *segment.Resolver
	detector  *fingerprint.Detector
	scripts   *script.Runner
	opener    *source.Opener
	cfg       Config
	outputDir string
	rootPath  string
	failed    []string
}

// Run executes a backup, blocking until complete.
func Run(ctx context.Context, cfg Config) Result {
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}

	res := Result{RunID: runID}
	fail := func(err error) Result {
		logger.Error("run failed", "event", event.RunAborted.String(), "error", err)
		res.Err = err
		res.Stats = collector.Snapshot()
		return res
	}

	outputDir, err := prepareOutput(cfg.OutputDir)
	if err != nil {
		return fail(err)
	}
	var rootPath string
	if cfg.RootPath != "" {
		if rootPath, err = filepath.Abs(cfg.RootPath); err != nil {
			return fail(err)
		}
	}

	resolver, err := segment.NewResolver(cfg.Segments, cfg.Ignore)
	if err != nil {
		return fail(err)
	}

	store, err := fingerprint.OpenStore(cfg.HashFile)
	if err != nil {
		return fail(err)
	}
	detector := fingerprint.NewDetector(store)
	defer detector.Close()

	r := &runner{
		cfg:       cfg,
		logger:    logger,
		events:    cfg.Events,
		stats:     collector,
		resolver:  resolver,
		detector:  detector,
		scripts:   &script.Runner{Post: cfg.PostScript, Skip: cfg.SkipScript, Output: cfg.ScriptOutput},
		opener:    source.NewOpener(cfg.BWLimit),
		outputDir: outputDir,
		rootPath:  rootPath,
	}

	for _, seg := range resolver.Segments() {
		if err := r.processSegment(ctx, seg); err != nil {
			var abort *script.AbortError
			if errors.As(err, &abort) {
				res.Aborted = abort
				r.emit(ctx, slog.LevelError, "run aborted by script", event.Event{
					Type: event.RunAborted, Segment: seg.Name, Path: abort.Path, Code: abort.Code, Error: err,
				}, "segment", seg.Name, "script", abort.Script, "path", abort.Path, "code", abort.Code)
				res.Err = err
				res.Failed = r.failed
				res.Stats = collector.Snapshot()
				return res
			}
			res.Failed = r.failed
			return fail(fmt.Errorf("segment %s: %w", seg.Name, err))
		}
	}

	snap := collector.Snapshot()
	r.emit(ctx, slog.LevelInfo, "run complete", event.Event{Type: event.RunComplete},
		"archived", snap.SegmentsArchived,
		"skipped", snap.SegmentsSkipped,
		"failed", snap.SegmentsFailed,
		"parts", snap.PartsWritten,
		"bytes", snap.BytesWritten,
		"warnings", snap.ScriptWarnings,
		"elapsed", snap.Elapsed,
	)
	res.Failed = r.failed
	res.Stats = collector.Snapshot()
	return res
}

// prepareOutput creates the output directory if missing. Its parent must
// already exist.
func prepareOutput(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("no output directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	switch {
	case err == nil && !st.IsDir():
		return "", fmt.Errorf("output path %s is not a directory", abs)
	case err == nil:
		return abs, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("output path: %w", err)
	}
	if err := os.Mkdir(abs, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return abs, nil
}

// marker returns the restore destination recorded for a segment root.
func (r *runner) marker(root string) string {
	if r.rootPath == "" {
		return filepath.ToSlash(root)
	}
	rel, err := filepath.Rel(r.rootPath, root)
	if err != nil {
		return filepath.ToSlash(root)
	}
	return filepath.ToSlash(rel)
}

// processSegment returns an error only when the run must stop: a script
// abort, an unusable output, or cancellation.
func (r *runner) processSegment(ctx context.Context, seg segment.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	r.emit(ctx, slog.LevelInfo, "segment started", event.Event{Type: event.SegmentStarted, Segment: seg.Name},
		"segment", seg.Name, "root", seg.Root)

	resolved, err := r.resolver.Resolve(seg.Name)
	if err != nil {
		r.segmentFailed(ctx, seg.Name, err)
		return nil
	}
	for _, e := range resolved.Errors {
		r.entrySkipped(ctx, seg.Name, e)
	}

	base := archive.BasePath(r.outputDir, seg.Name)

	commit := true
	digest, err := fingerprint.Compute(ctx, resolved.Entries, r.opener)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		// Archive anyway, but make sure the next run does not skip.
		r.logger.Warn("fingerprint failed, archiving without change detection",
			"segment", seg.Name, "error", err)
		commit = false
		if ferr := r.detector.Forget(seg.Name); ferr != nil {
			r.logger.Error("forget fingerprint", "segment", seg.Name, "error", ferr)
		}
	case r.detector.ShouldSkip(seg.Name, digest):
		r.stats.AddSegmentsSkipped(1)
		r.emit(ctx, slog.LevelInfo, "segment unchanged, skipped",
			event.Event{Type: event.SegmentSkipped, Segment: seg.Name, Path: base},
			"segment", seg.Name, "fingerprint", digest)
		return r.checkScript(ctx, seg.Name, r.cfg.SkipScript, base, r.scripts.InvokeSkip(ctx, base))
	}

	out, err := archive.Archive(ctx, archive.Request{
		Opener:       r.opener,
		Logger:       r.logger.With("segment", seg.Name),
		Name:         seg.Name,
		OutputDir:    r.outputDir,
		Marker:       r.marker(seg.Root),
		Entries:      resolved.Entries,
		MaxPartBytes: r.cfg.MaxPartBytes,
		Level:        r.cfg.Level,
		OnBytes:      r.stats.AddBytesWritten,
		OnPart: func(p archive.Part) error {
			r.stats.AddPartsWritten(1)
			r.emit(ctx, slog.LevelInfo, "part written",
				event.Event{Type: event.PartWritten, Segment: seg.Name, Path: p.Path, Size: p.Size, Part: p.Index},
				"segment", seg.Name, "path", p.Path, "part", p.Index, "size", p.Size)
			return r.checkScript(ctx, seg.Name, r.cfg.PostScript, p.Path, r.scripts.InvokePost(ctx, p.Path))
		},
	})
	for _, e := range out.Skipped {
		r.entrySkipped(ctx, seg.Name, e)
	}
	if err != nil {
		return err
	}
	r.stats.AddEntriesArchived(int64(out.EntriesWritten))

	if commit {
		if err := r.detector.Commit(seg.Name, digest); err != nil {
			r.segmentFailed(ctx, seg.Name, err)
			return nil
		}
	}

	r.stats.AddSegmentsArchived(1)
	r.emit(ctx, slog.LevelInfo, "segment archived",
		event.Event{Type: event.SegmentArchived, Segment: seg.Name, Path: base, Size: out.BytesWritten},
		"segment", seg.Name,
		"parts", len(out.Parts),
		"entries", out.EntriesWritten,
		"bytes", out.BytesWritten,
		"committed", commit,
		"duration", time.Since(start),
	)
	return nil
}

// checkScript logs a script outcome and converts an abort into an error.
func (r *runner) checkScript(ctx context.Context, segName, scriptPath, arg string, o script.Outcome) error {
	switch o.Kind {
	case script.Continue:
		return nil
	case script.Warn:
		r.stats.AddScriptWarnings(1)
		r.emit(ctx, slog.LevelWarn, "script returned warning",
			event.Event{Type: event.ScriptWarning, Segment: segName, Path: arg, Code: o.Code},
			"segment", segName, "script", scriptPath, "path", arg, "code", o.Code)
		return nil
	default:
		args := []any{"segment", segName, "script", scriptPath, "path", arg, "code", o.Code}
		if o.Err != nil {
			args = append(args, "error", o.Err)
		}
		r.emit(ctx, slog.LevelError, "script requested abort",
			event.Event{Type: event.ScriptAbort, Segment: segName, Path: arg, Code: o.Code, Error: o.Err},
			args...)
		return o.Check(scriptPath, arg)
	}
}

func (r *runner) segmentFailed(ctx context.Context, name string, err error) {
	r.failed = append(r.failed, name)
	r.stats.AddSegmentsFailed(1)
	r.emit(ctx, slog.LevelError, "segment failed",
		event.Event{Type: event.SegmentFailed, Segment: name, Error: err},
		"segment", name, "error", err)
}

func (r *runner) entrySkipped(ctx context.Context, segName string, e *segment.EntryError) {
	r.stats.AddEntriesSkipped(1)
	r.emit(ctx, slog.LevelWarn, "entry skipped",
		event.Event{Type: event.EntrySkipped, Segment: segName, Path: e.Path, Error: e.Err},
		"segment", segName, "path", e.Path, "error", e.Err)
}

// emit writes one Run Log record and forwards the event to cfg.Events.
func (r *runner) emit(ctx context.Context, level slog.Level, msg string, ev event.Event, args ...any) {
	ev.Timestamp = time.Now()
	r.logger.Log(ctx, level, msg, append([]any{"event", ev.Type.String()}, args...)...)
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}
