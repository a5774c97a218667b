package transcript

import (
	"strings"
	"sync"
)

// Log is the append-only transcript of one session. It is safe for one
// writer and any number of concurrent readers.
type Log struct {
	mu      sync.RWMutex
	segs    []Segment
	changed chan struct{}
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{changed: make(chan struct{})}
}

// Append stores s with the next sequence index and returns the stored copy.
func (l *Log) Append(s Segment) Segment {
	l.mu.Lock()
	s.Index = len(l.segs)
	l.segs = append(l.segs, s)
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
	return s
}

// Len returns the number of segments.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segs)
}

// Since returns a copy of the segments whose index is greater than cursor.
func (l *Log) Since(cursor int) []Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := cursor + 1
	if start < 0 {
		start = 0
	}
	if start >= len(l.segs) {
		return nil
	}
	out := make([]Segment, len(l.segs)-start)
	copy(out, l.segs[start:])
	return out
}

// Snapshot returns a copy of every segment.
func (l *Log) Snapshot() []Segment { return l.Since(-1) }

// Changed returns a channel that is closed on the next Append. Call it again
// after each wake-up to wait for the following one.
func (l *Log) Changed() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.changed
}

// Text renders the log as "speaker: text" lines. When finalOnly is set,
// interim hypotheses are skipped.
func (l *Log) Text(finalOnly bool) string {
	var b strings.Builder
	for _, s := range l.Snapshot() {
		if finalOnly && !s.IsFinal {
			continue
		}
		b.WriteString(s.Speaker.String())
		b.WriteString(": ")
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
