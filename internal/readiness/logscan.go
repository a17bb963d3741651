package readiness

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// DefaultURLPattern matches any http or https URL. It stops at whitespace,
// quotes, angle brackets, pipes and control characters, the last of which
// also keeps ANSI color codes out of the match.
const DefaultURLPattern = `https?://[^\s"'<>|\x00-\x1f\x7f]+`

// trailingJunk is trimmed from the end of every match. Closing brackets
// are handled separately by trimClosers.
const trailingJunk = ".,;:!?'\"`"

// LogScanDetector finds the public URL in an agent's captured output.
//
// A match that runs into the end of a live buffer may be a line the agent
// is still writing. It is reported once the agent has exited, or once the
// same match is still at the end of an unchanged buffer on the next call.
type LogScanDetector struct {
	pattern *regexp.Regexp

	mu      sync.Mutex
	pending string // last match seen at the end of the buffer
	seenLen int    // buffer length when pending was seen
}

// NewLogScanDetector compiles pattern, or DefaultURLPattern when empty.
// When the pattern has a capture group, the first group is the URL.
func NewLogScanDetector(pattern string) (*LogScanDetector, error) {
	if pattern == "" {
		pattern = DefaultURLPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid url pattern %q: %w", pattern, err)
	}
	return &LogScanDetector{pattern: re}, nil
}

// Detect scans the full output snapshot. It never returns an error.
func (d *LogScanDetector) Detect(_ context.Context, src Source) (string, error) {
	data := src.Output()
	url, tail := d.scan(data)
	if url != "" {
		return url, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if tail == "" {
		d.pending, d.seenLen = "", 0
		return "", nil
	}
	if finished(src) || (tail == d.pending && len(data) == d.seenLen) {
		return tail, nil
	}
	d.pending, d.seenLen = tail, len(data)
	return "", nil
}

// Scan returns the first URL in data, which is taken to be complete
// output such as a log file.
func (d *LogScanDetector) Scan(data []byte) string {
	url, tail := d.scan(data)
	if url != "" {
		return url
	}
	return tail
}

// scan returns the first match that ends before the end of data, or
// failing that the match that runs into the end of data.
func (d *LogScanDetector) scan(data []byte) (url, tail string) {
	for _, loc := range d.pattern.FindAllSubmatchIndex(data, -1) {
		start, end := loc[0], loc[1]
		if len(loc) >= 4 && loc[2] >= 0 {
			start, end = loc[2], loc[3]
		}
		u := cleanURL(string(data[start:end]))
		if u == "" {
			continue
		}
		if end >= len(data) {
			tail = u
			continue
		}
		return u, ""
	}
	return "", tail
}

// finished reports whether src can no longer grow. Sources with a Done
// channel, such as process.Process and Snapshot, are finished once it is
// closed.
func finished(src Source) bool {
	ds, ok := src.(interface{ Done() <-chan struct{} })
	if !ok {
		return false
	}
	select {
	case <-ds.Done():
		return true
	default:
		return false
	}
}

// Snapshot is output that is already complete, such as a log file read
// from disk.
type Snapshot []byte

// Output returns the snapshot.
func (s Snapshot) Output() []byte { return s }

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done is always closed.
func (s Snapshot) Done() <-chan struct{} { return closedDone }

// cleanURL strips surrounding whitespace and trailing punctuation that
// log formats put right after a URL.
func cleanURL(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := trimClosers(strings.TrimRight(s, trailingJunk))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return ""
	}
	if s == "http://" || s == "https://" {
		return ""
	}
	return s
}

var closers = map[byte]byte{')': '(', ']': '[', '}': '{'}

// trimClosers drops a trailing closing bracket that has no opening
// partner inside the URL, so "(https://x.example)" loses the ")" but
// "https://x.example/wiki/Foo_(bar)" keeps it.
func trimClosers(s string) string {
	for len(s) > 0 {
		last := s[len(s)-1]
		open, ok := closers[last]
		if !ok {
			return s
		}
		if strings.Count(s, string(open)) >= strings.Count(s, string(last)) {
			return s
		}
		s = s[:len(s)-1]
	}
	return s
}
