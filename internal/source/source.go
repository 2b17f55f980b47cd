// Package source opens segment files for sequential reading, applying the
// configured bandwidth limit and page-cache hints.
package source

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/time/rate"

	"github.com/bamsammich/segbkp/internal/platform"
)

// BufferSize is the size of the pooled copy buffer used for source reads.
const BufferSize = 1 << 20 // 1 MiB

// Opener opens source files. The zero value (or nil) reads without limits.
type Opener struct {
	limiter *rate.Limiter
}

// NewOpener returns an Opener capping aggregate reads to bytesPerSec.
// bytesPerSec <= 0 disables the limit.
func NewOpener(bytesPerSec int64) *Opener {
	if bytesPerSec <= 0 {
		return &Opener{}
	}
	return &Opener{limiter: newLimiter(bytesPerSec)}
}

// newLimiter allows one copy buffer per burst, or the whole per-second rate
// when that is smaller.
func newLimiter(bytesPerSec int64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(min(bytesPerSec, BufferSize)))
}

// Open opens path for a single front-to-back read. Closing the returned
// reader releases the file's cached pages.
func (o *Opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	platform.Advise(f, platform.Sequential)

	sf := &sourceFile{f: f, r: f}
	if o != nil && o.limiter != nil {
		sf.r = &throttled{ctx: ctx, src: f, lim: o.limiter}
	}
	return sf, nil
}

type sourceFile struct {
	f *os.File
	r io.Reader
}

func (s *sourceFile) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *sourceFile) Close() error {
	platform.Advise(s.f, platform.DontNeed)
	return s.f.Close()
}

// throttled charges every read against a limiter shared by all open files.
type throttled struct {
	ctx context.Context //nolint:containedctx // reads have no ctx parameter
	src io.Reader
	lim *rate.Limiter
}

func (t *throttled) Read(p []byte) (int, error) {
	// WaitN rejects requests above the burst.
	if b := t.lim.Burst(); len(p) > b {
		p = p[:b]
	}
	n, err := t.src.Read(p)
	if n > 0 {
		if werr := t.lim.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
