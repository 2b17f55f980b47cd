package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Part is one finished output file.
type Part struct {
	Path  string
	Index int // 1-based; 0 for an unsplit archive
	Size  int64
}

// PartFunc is called after each part is synced and closed, before the next
// part is opened. A non-nil error stops the stream.
type PartFunc func(Part) error

// ProgressFunc is called with the size of every chunk written to disk.
type ProgressFunc func(n int64)

// RollingWriter writes a byte stream into base, or into base.part001,
// base.part002, ... when max is positive and the stream exceeds max bytes.
// Part boundaries are raw byte offsets: concatenating the parts in order
// yields the stream unchanged.
type RollingWriter struct {
	f       *os.File
	err     error
	onPart  PartFunc
	onBytes ProgressFunc
	base    string
	parts   []Part
	max     int64
	written int64 // bytes in the current part
	total   int64
	index   int
}

// NewRollingWriter removes stale outputs for base and opens the first part.
// max <= 0 disables splitting.
func NewRollingWriter(base string, max int64, onPart PartFunc) (*RollingWriter, error) {
	if err := removeStale(base); err != nil {
		return nil, err
	}
	w := &RollingWriter{base: base, max: max, onPart: onPart}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// OnBytes sets the listener for bytes as they reach the current part, for
// progress reporting before a part is finished.
func (w *RollingWriter) OnBytes(fn ProgressFunc) { w.onBytes = fn }

// PartPath returns the name of part index of base.
func PartPath(base string, index int) string {
	return fmt.Sprintf("%s.part%03d", base, index)
}

func (w *RollingWriter) splitting() bool { return w.max > 0 }

func (w *RollingWriter) currentPath() string {
	if !w.splitting() {
		return w.base
	}
	return PartPath(w.base, w.index)
}

func (w *RollingWriter) open() error {
	w.index++
	f, err := os.OpenFile(w.currentPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoOutput, err)
	}
	w.f = f
	w.written = 0
	return nil
}

// Write implements io.Writer. A new part is opened only when bytes remain
// after the current part is full.
func (w *RollingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	var n int
	for len(p) > 0 {
		if w.splitting() && w.written == w.max {
			if err := w.roll(); err != nil {
				w.err = err
				return n, err
			}
		}
		chunk := p
		if w.splitting() {
			if room := w.max - w.written; int64(len(chunk)) > room {
				chunk = chunk[:room]
			}
		}
		m, err := w.f.Write(chunk)
		n += m
		w.written += int64(m)
		w.total += int64(m)
		if m > 0 && w.onBytes != nil {
			w.onBytes(int64(m))
		}
		if err != nil {
			w.err = fmt.Errorf("write %s: %w", w.f.Name(), err)
			return n, w.err
		}
		p = p[m:]
	}
	return n, nil
}

func (w *RollingWriter) roll() error {
	if err := w.finish(w.currentPath()); err != nil {
		return err
	}
	return w.open()
}

// finish syncs and closes the current file, records it as path and hands it
// to the listener.
func (w *RollingWriter) finish(path string) error {
	f := w.f
	w.f = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	if path != f.Name() {
		if err := os.Rename(f.Name(), path); err != nil {
			return fmt.Errorf("rename %s: %w", f.Name(), err)
		}
	}

	part := Part{Path: path, Index: w.index, Size: w.written}
	if !w.splitting() || path == w.base {
		part.Index = 0
	}
	w.parts = append(w.parts, part)
	if w.onPart != nil {
		return w.onPart(part)
	}
	return nil
}

// Close finishes the last part. A stream that fit in a single part is
// renamed to the unsuffixed base name first.
func (w *RollingWriter) Close() error {
	if w.err != nil {
		w.Abort()
		return w.err
	}
	if w.f == nil {
		return nil
	}
	path := w.currentPath()
	if w.splitting() && w.index == 1 {
		path = w.base
	}
	if err := w.finish(path); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Abort closes the current file without handing it to the listener. Files
// already written are left on disk.
func (w *RollingWriter) Abort() {
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
}

// Parts returns the finished parts in order.
func (w *RollingWriter) Parts() []Part { return w.parts }

// Total returns the number of bytes written across all parts.
func (w *RollingWriter) Total() int64 { return w.total }

// removeStale deletes base and any base.partN left by an earlier run so a
// shorter stream cannot be restored together with older trailing parts.
func removeStale(base string) error {
	matches, err := filepath.Glob(globEscape(base) + ".part*")
	if err != nil {
		return err
	}
	matches = append(matches, base)
	for _, m := range matches {
		if m != base && !isPartSuffix(strings.TrimPrefix(m, base)) {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale output: %w", err)
		}
	}
	return nil
}

func isPartSuffix(s string) bool {
	digits, ok := strings.CutPrefix(s, ".part")
	if !ok || digits == "" {
		return false
	}
	_, err := strconv.ParseUint(digits, 10, 32)
	return err == nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
