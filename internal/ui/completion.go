package ui

import (
	"fmt"

	"github.com/bamsammich/segbkp/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot and the
// process exit status. A nonzero status, such as a script abort, marks the
// run failed even when no segment did and is appended to the line.
// Format: done ✓  segments 3 archived 1 skipped  parts 7  size 2.1 GiB  avg 41 MB/s  time 3m 17s  warnings 0  errors 0
func CompletionSummary(snap stats.Snapshot, exitCode int) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesWritten) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.SegmentsFailed > 0 || exitCode != 0 {
		icon = "✗"
	}

	line := fmt.Sprintf("done %s  segments %s archived %s skipped  parts %s  size %s  avg %s  time %s  warnings %d  errors %d",
		icon,
		FormatCount(snap.SegmentsArchived),
		FormatCount(snap.SegmentsSkipped),
		FormatCount(snap.PartsWritten),
		FormatBytes(snap.BytesWritten),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
		snap.ScriptWarnings,
		snap.SegmentsFailed,
	)
	if exitCode != 0 {
		line += fmt.Sprintf("  exit %d", exitCode)
	}
	return line
}
