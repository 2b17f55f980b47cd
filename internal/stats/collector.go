package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks run statistics using lock-free atomic counters.
type Collector struct {
	startTime        time.Time
	segmentsArchived atomic.Int64
	segmentsSkipped  atomic.Int64
	segmentsFailed   atomic.Int64
	partsWritten     atomic.Int64
	bytesWritten     atomic.Int64
	entriesArchived  atomic.Int64
	entriesSkipped   atomic.Int64
	scriptWarnings   atomic.Int64

	// Ring buffer, written only by Tick.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int // samples written, capped at ringSize
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	SegmentsArchived int64
	SegmentsSkipped  int64
	SegmentsFailed   int64
	PartsWritten     int64
	BytesWritten     int64
	EntriesArchived  int64
	EntriesSkipped   int64
	ScriptWarnings   int64
	Elapsed          time.Duration
}

// Reader provides read access to the collector.
type Reader interface {
	Snapshot() Snapshot
	RollingSpeed(seconds int) float64
}

// ReadTicker is a Reader that also samples throughput.
type ReadTicker interface {
	Reader
	Tick()
}

func (c *Collector) AddSegmentsArchived(n int64) { c.segmentsArchived.Add(n) }
func (c *Collector) AddSegmentsSkipped(n int64)  { c.segmentsSkipped.Add(n) }
func (c *Collector) AddSegmentsFailed(n int64)   { c.segmentsFailed.Add(n) }
func (c *Collector) AddPartsWritten(n int64)     { c.partsWritten.Add(n) }
func (c *Collector) AddBytesWritten(n int64)     { c.bytesWritten.Add(n) }
func (c *Collector) AddEntriesArchived(n int64)  { c.entriesArchived.Add(n) }
func (c *Collector) AddEntriesSkipped(n int64)   { c.entriesSkipped.Add(n) }
func (c *Collector) AddScriptWarnings(n int64)   { c.scriptWarnings.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		SegmentsArchived: c.segmentsArchived.Load(),
		SegmentsSkipped:  c.segmentsSkipped.Load(),
		SegmentsFailed:   c.segmentsFailed.Load(),
		PartsWritten:     c.partsWritten.Load(),
		BytesWritten:     c.bytesWritten.Load(),
		EntriesArchived:  c.entriesArchived.Load(),
		EntriesSkipped:   c.entriesSkipped.Load(),
		ScriptWarnings:   c.scriptWarnings.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Tick snapshots the byte delta into the ring buffer. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	current := c.bytesWritten.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"archived=%d skipped=%d failed=%d parts=%d bytes=%d entries=%d entries_skipped=%d warnings=%d",
		s.SegmentsArchived, s.SegmentsSkipped, s.SegmentsFailed, s.PartsWritten,
		s.BytesWritten, s.EntriesArchived, s.EntriesSkipped, s.ScriptWarnings,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
