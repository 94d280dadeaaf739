package logger

import (
	"bytes"
	"sync"
)

// LogBuffer keeps the most recent log lines in memory for the dashboard.
// It implements io.Writer; each Write is one encoded entry.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
	total uint64
}

// NewLogBuffer creates a buffer holding up to size lines.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 200
	}
	return &LogBuffer{lines: make([]string, size)}
}

// Write stores p as one line.
func (b *LogBuffer) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\n"))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
	b.total++
	return len(p), nil
}

// Recent returns up to limit lines, oldest first. limit <= 0 returns all.
func (b *LogBuffer) Recent(limit int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []string
	if b.full {
		ordered = append(ordered, b.lines[b.next:]...)
	}
	ordered = append(ordered, b.lines[:b.next]...)

	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	out := make([]string, len(ordered))
	copy(out, ordered)
	return out
}

// Total returns how many lines were ever written.
func (b *LogBuffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
