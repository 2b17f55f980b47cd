package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/segbkp/internal/stats"
)

const progressEvery = 5 // ticks

// plainPresenter prints one line per part and per segment outcome to
// stdout, and periodic progress to stderr when it is a terminal.
type plainPresenter struct {
	w        io.Writer
	errW     io.Writer
	stats    stats.ReadTicker
	ticks    int
	width    int
	progress bool
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.ticks++
			if p.progress && p.ticks%progressEvery == 0 {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case PartWritten:
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatBytes(ev.Size), FormatRate(p.stats.RollingSpeed(5)))
	case SegmentSkipped:
		fmt.Fprintf(p.w, "%s  unchanged\n", ev.Segment)
	case SegmentFailed:
		fmt.Fprintf(p.w, "%s  failed  %s\n", ev.Segment, errString(ev.Error))
	case EntrySkipped:
		fmt.Fprintf(p.w, "%s  skipped  %s\n", ev.Path, errString(ev.Error))
	case ScriptWarning:
		fmt.Fprintf(p.w, "%s  script warning  exit %d\n", ev.Path, ev.Code)
	case ScriptAbort:
		fmt.Fprintf(p.w, "%s  script abort  exit %d\n", ev.Path, ev.Code)
	case SegmentStarted, SegmentArchived, RunAborted, RunComplete:
		// logged; nothing to add
	}
}

func errString(err error) string {
	if err == nil {
		return "error"
	}
	return err.Error()
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	line := fmt.Sprintf("progress: %s written  %s parts  %s segments  %s",
		FormatBytes(snap.BytesWritten),
		FormatCount(snap.PartsWritten),
		FormatCount(snap.SegmentsArchived+snap.SegmentsSkipped+snap.SegmentsFailed),
		FormatRate(p.stats.RollingSpeed(10)),
	)
	fmt.Fprintln(p.errW, clip(line, p.width))
}

func (p *plainPresenter) Summary(exitCode int) string {
	return CompletionSummary(p.stats.Snapshot(), exitCode)
}
