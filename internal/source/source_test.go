package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenerReadsWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	data := bytes.Repeat([]byte("0123456789"), 1000)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	for _, o := range []*Opener{nil, {}, NewOpener(0), NewOpener(1 << 30)} {
		rc, err := o.Open(context.Background(), path)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, data, got)
	}
}

func TestOpenerMissingFile(t *testing.T) {
	_, err := NewOpener(0).Open(context.Background(), "/nonexistent/file")
	assert.Error(t, err)
}

func TestLimiterBurst(t *testing.T) {
	assert.Equal(t, BufferSize, newLimiter(100<<20).Burst())
	assert.Equal(t, 4096, newLimiter(4096).Burst())
}

func TestThrottledReader(t *testing.T) {
	limiter := newLimiter(50 * 1024) // 50 KB/s, burst 50 KB
	data := make([]byte, 100*1024)
	r := &throttled{ctx: context.Background(), src: bytes.NewReader(data), lim: limiter}

	start := time.Now()
	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	// First 50 KB pass on the burst; the rest waits about a second.
	assert.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestThrottledReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &throttled{ctx: ctx, src: bytes.NewReader(make([]byte, 8192)), lim: newLimiter(1024)}
	n, err := r.Read(make([]byte, 8192))
	assert.Equal(t, 1024, n, "reads are clipped to the burst")
	assert.ErrorIs(t, err, context.Canceled)
}
