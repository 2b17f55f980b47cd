// Package fingerprint detects unchanged segments by comparing a content
// digest against the last digest committed for the segment.
package fingerprint

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/segbkp/internal/segment"
	"github.com/bamsammich/segbkp/internal/source"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// Compute returns the hex BLAKE3 digest of entries, fed in the given order.
// Each entry contributes its type, relative path and, for regular files,
// size, mtime and full content; symlinks contribute their target.
// Directories contribute only their path. An unreadable file fails the
// whole computation.
func Compute(ctx context.Context, entries []segment.Entry, opener *source.Opener) (string, error) {
	h := blake3.New()
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)

	var num [8]byte
	writeString := func(s string) {
		binary.LittleEndian.PutUint64(num[:], uint64(len(s)))
		h.Write(num[:])
		h.Write([]byte(s))
	}
	writeInt := func(n int64) {
		binary.LittleEndian.PutUint64(num[:], uint64(n)) //nolint:gosec // G115: bit pattern only
		h.Write(num[:])
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		h.Write([]byte{byte(e.Type)})
		writeString(e.RelPath)

		switch e.Type {
		case segment.Symlink:
			writeString(e.LinkTarget)
		case segment.Regular:
			writeInt(e.Size)
			writeInt(e.ModTime.UnixNano())
			if err := hashContent(ctx, h, e.Path, opener, *bufp); err != nil {
				return "", err
			}
		case segment.Dir:
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashContent(ctx context.Context, w io.Writer, path string, opener *source.Opener, buf []byte) error {
	rc, err := opener.Open(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.CopyBuffer(w, rc, buf); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return nil
}
