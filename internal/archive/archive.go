// Package archive streams a segment into a gzip-compressed tar archive,
// split into fixed-size parts.
//
// The first entry of every archive is the marker record, a small file named
// MarkerName whose content is the path the segment restores to. Entries
// follow in resolver order.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bamsammich/segbkp/internal/segment"
	"github.com/bamsammich/segbkp/internal/source"
)

const (
	// Ext is the extension of a complete archive.
	Ext = ".tar.gz"
	// MarkerName is the name of the marker record entry.
	MarkerName = ".seg_bkp.path"
	// MaxMarkerSize bounds the marker content accepted on restore.
	MaxMarkerSize = 4096
)

// ErrNoOutput is returned when an output file cannot be created.
var ErrNoOutput = errors.New("cannot open archive output")

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, source.BufferSize)
		return &b
	},
}

// Request describes one segment to archive.
type Request struct {
	Opener *source.Opener
	OnPart PartFunc
	// OnBytes, if set, sees compressed bytes as they are written.
	OnBytes ProgressFunc
	Logger *slog.Logger
	// Name is the segment name; the archive base is OutputDir/Name.tar.gz.
	Name      string
	OutputDir string
	// Marker is the restore destination written into the marker record.
	Marker  string
	Entries []segment.Entry
	// MaxPartBytes <= 0 disables splitting.
	MaxPartBytes int64
	Level        int
}

// Result summarizes a finished archive.
type Result struct {
	Parts          []Part
	Skipped        []*segment.EntryError
	BytesWritten   int64
	EntriesWritten int
	// Padded lists files that shrank while being read.
	Padded []string
}

// BasePath returns the unsplit archive path for a segment.
func BasePath(outputDir, name string) string {
	return filepath.Join(outputDir, name+Ext)
}

// Archive writes req.Entries as one compressed stream. Unreadable entries
// are skipped and reported in Result.Skipped for the caller to log. An error from req.OnPart
// stops the stream and is returned unchanged (wrapped); parts finished
// before it stay on disk.
func Archive(ctx context.Context, req Request) (Result, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if req.Level < gzip.NoCompression || req.Level > gzip.BestCompression {
		return Result{}, fmt.Errorf("compression level %d out of range 0-9", req.Level)
	}

	rw, err := NewRollingWriter(BasePath(req.OutputDir, req.Name), req.MaxPartBytes, req.OnPart)
	if err != nil {
		return Result{}, err
	}
	rw.OnBytes(req.OnBytes)

	gz, err := gzip.NewWriterLevel(rw, req.Level)
	if err != nil {
		rw.Abort()
		return Result{}, fmt.Errorf("gzip: %w", err)
	}
	tw := tar.NewWriter(gz)

	s := &streamer{req: req, tw: tw, logger: logger}
	err = s.run(ctx)
	if err == nil {
		err = tw.Close()
	}
	if err == nil {
		err = gz.Close()
	}
	if err != nil {
		rw.Abort()
		return s.result(rw), firstErr(rw.err, err)
	}
	if err := rw.Close(); err != nil {
		return s.result(rw), err
	}
	return s.result(rw), nil
}

// firstErr prefers the sink's own error over the copy of it reported back
// through the tar and gzip layers.
func firstErr(sink, stream error) error {
	if sink != nil {
		return sink
	}
	return stream
}

type streamer struct {
	tw     *tar.Writer
	logger *slog.Logger
	res    Result
	req    Request
}

func (s *streamer) result(rw *RollingWriter) Result {
	s.res.Parts = rw.Parts()
	s.res.BytesWritten = rw.Total()
	return s.res
}

func (s *streamer) run(ctx context.Context) error {
	if err := s.writeMarker(); err != nil {
		return err
	}

	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)

	for i := range s.req.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeEntry(ctx, &s.req.Entries[i], *bufp); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamer) writeMarker() error {
	content := []byte(s.req.Marker)
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     MarkerName,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0),
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if _, err := s.tw.Write(content); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

func (s *streamer) skip(e *segment.Entry, err error) {
	s.res.Skipped = append(s.res.Skipped, &segment.EntryError{Path: e.Path, Err: err})
}

// writeEntry returns an error only for failures of the output stream.
func (s *streamer) writeEntry(ctx context.Context, e *segment.Entry, buf []byte) error {
	hdr, err := tar.FileInfoHeader(e.Info, e.LinkTarget)
	if err != nil {
		s.skip(e, err)
		return nil
	}
	hdr.Name = e.RelPath
	if e.Type == segment.Dir {
		hdr.Name += "/"
	}

	if e.Type != segment.Regular {
		if err := s.tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", e.RelPath, err)
		}
		s.res.EntriesWritten++
		return nil
	}

	// Open before the header so an unreadable file can still be skipped.
	rc, err := s.req.Opener.Open(ctx, e.Path)
	if err != nil {
		s.skip(e, err)
		return nil
	}
	defer rc.Close()

	hdr.Size = e.Size
	if err := s.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", e.RelPath, err)
	}

	n, err := copyTo(s.tw, io.LimitReader(rc, e.Size), buf)
	if n < 0 {
		return fmt.Errorf("write %s: %w", e.RelPath, err)
	}
	if n < e.Size {
		// The header is already out; fill the declared size.
		s.logger.Warn("file shrank while archiving, zero-padded",
			"path", e.Path, "expected", e.Size, "read", n, "error", err)
		s.res.Padded = append(s.res.Padded, e.Path)
		if err := pad(s.tw, e.Size-n, buf); err != nil {
			return fmt.Errorf("pad %s: %w", e.RelPath, err)
		}
	}
	s.res.EntriesWritten++
	return nil
}

// copyTo copies src to dst through buf. Read errors end the copy early and
// are returned with the byte count; a write error is returned with n = -1.
func copyTo(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var n int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				return -1, werr
			}
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func pad(w io.Writer, n int64, buf []byte) error {
	clear(buf)
	for n > 0 {
		chunk := buf
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		m, err := w.Write(chunk)
		if err != nil {
			return err
		}
		n -= int64(m)
	}
	return nil
}
