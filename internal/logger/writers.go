package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SafeFileWriter is a buffered, mutex guarded file sink flushed on a timer.
// It implements zapcore.WriteSyncer.
type SafeFileWriter struct {
	mu     sync.Mutex
	writer *bufio.Writer
	file   *os.File
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once

	written uint64
	flushes uint64
}

// NewSafeFileWriter opens path for appending, creating parent directories.
func NewSafeFileWriter(path string, flushInterval time.Duration) (*SafeFileWriter, error) {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	w := &SafeFileWriter{
		writer: bufio.NewWriter(file),
		file:   file,
		ticker: time.NewTicker(flushInterval),
		done:   make(chan struct{}),
	}
	go w.periodicFlush()
	return w, nil
}

// Write buffers p.
func (w *SafeFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.writer.Write(p)
	if err == nil {
		w.written++
	}
	return n, err
}

// Sync flushes the buffer to disk.
func (w *SafeFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *SafeFileWriter) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	w.flushes++
	return w.file.Sync()
}

func (w *SafeFileWriter) periodicFlush() {
	for {
		select {
		case <-w.ticker.C:
			_ = w.Sync()
		case <-w.done:
			return
		}
	}
}

// Close flushes and closes the file. Extra calls are no-ops.
func (w *SafeFileWriter) Close() error {
	var err error
	w.once.Do(func() {
		w.ticker.Stop()
		close(w.done)

		w.mu.Lock()
		defer w.mu.Unlock()
		if ferr := w.flushLocked(); ferr != nil {
			err = ferr
		}
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// Stats returns the number of writes and flushes so far.
func (w *SafeFileWriter) Stats() (writes, flushes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.flushes
}
