package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	SegmentStarted Type = iota + 1
	SegmentSkipped
	SegmentArchived
	SegmentFailed
	PartWritten
	ScriptWarning
	ScriptAbort
	EntrySkipped
	RunAborted
	RunComplete
)

var typeNames = [...]string{
	SegmentStarted:  "SegmentStarted",
	SegmentSkipped:  "SegmentSkipped",
	SegmentArchived: "SegmentArchived",
	SegmentFailed:   "SegmentFailed",
	PartWritten:     "PartWritten",
	ScriptWarning:   "ScriptWarning",
	ScriptAbort:     "ScriptAbort",
	EntrySkipped:    "EntrySkipped",
	RunAborted:      "RunAborted",
	RunComplete:     "RunComplete",
}

func (t Type) String() string {
	if int(t) > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is one Run Log record.
type Event struct {
	Timestamp time.Time
	Error     error
	Segment   string
	Path      string // part, base archive or entry path
	Type      Type
	Size      int64 // part size in bytes
	Part      int   // 1-based part index; 0 for an unsplit archive
	Code      int   // script exit code
}
