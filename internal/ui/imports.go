package ui

import "github.com/bamsammich/segbkp/internal/event"

// Event is re-exported for presenters.
type Event = event.Event

// Re-export event types for convenience.
const (
	SegmentStarted  = event.SegmentStarted
	SegmentSkipped  = event.SegmentSkipped
	SegmentArchived = event.SegmentArchived
	SegmentFailed   = event.SegmentFailed
	PartWritten     = event.PartWritten
	ScriptWarning   = event.ScriptWarning
	ScriptAbort     = event.ScriptAbort
	EntrySkipped    = event.EntrySkipped
	RunAborted      = event.RunAborted
	RunComplete     = event.RunComplete
)
