package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DefaultCaptureLimit bounds the in-memory part of a Capture. Agent URLs
// are printed during startup, so output past the limit is only written to
// the optional file.
const DefaultCaptureLimit = 4 << 20

// Capture is the per-provider output sink. It is append-only and safe for
// concurrent writers (stdout and stderr copiers, container log streams)
// and readers (the readiness poller).
//
// Readers always get a snapshot of the whole buffer, which lets the log
// scanner re-check everything on every tick instead of tracking offsets
// across partial writes.
type Capture struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	dropped int64
	file    io.WriteCloser
}

// NewCapture creates an in-memory capture with DefaultCaptureLimit.
func NewCapture() *Capture {
	return &Capture{limit: DefaultCaptureLimit}
}

// NewFileCapture creates a capture that also appends everything to path.
// Parent directories are created as needed.
func NewFileCapture(path string) (*Capture, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	c := NewCapture()
	c.file = f
	return c, nil
}

// Write appends p to the buffer (up to the limit) and to the file, if any.
// It never fails on the in-memory side, so a slow or broken file does not
// stall the agent's output pipe.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.limit - c.buf.Len()
	switch {
	case room >= len(p):
		c.buf.Write(p)
	case room > 0:
		c.buf.Write(p[:room])
		c.dropped += int64(len(p) - room)
	default:
		c.dropped += int64(len(p))
	}

	if c.file != nil {
		if _, err := c.file.Write(p); err != nil {
			_ = c.file.Close()
			c.file = nil
		}
	}
	return len(p), nil
}

// Bytes returns a copy of everything captured so far.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out
}

// String returns the captured output as a string.
func (c *Capture) String() string {
	return string(c.Bytes())
}

// Dropped returns how many bytes did not fit in memory.
func (c *Capture) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the backing file, if any. The in-memory buffer stays
// readable.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
