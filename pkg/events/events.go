// Package events delivers progress events and build logs to their consumers
package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/kilnproject/kiln/pkg/interfaces"
	"github.com/kilnproject/kiln/pkg/types"
)

// BufferedSink decouples event producers from a possibly slow consumer.
// Publish never blocks: events queue into a bounded channel and are
// dropped, with a counter, when the consumer cannot keep up. Per-package
// ordering is preserved for every event that is delivered.
type BufferedSink struct {
	consumer interfaces.EventSink
	ch       chan types.ProgressEvent
	dropped  atomic.Int64
	done     chan struct{}
	once     sync.Once
}

// NewBufferedSink starts a drain goroutine feeding consumer
func NewBufferedSink(consumer interfaces.EventSink, capacity int) *BufferedSink {
	if capacity < 1 {
		capacity = 256
	}
	s := &BufferedSink{
		consumer: consumer,
		ch:       make(chan types.ProgressEvent, capacity),
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

// Publish enqueues an event, dropping it when the buffer is full
func (s *BufferedSink) Publish(event types.ProgressEvent) {
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to back-pressure
func (s *BufferedSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes queued events and stops the drain goroutine
func (s *BufferedSink) Close() {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
}

func (s *BufferedSink) drain() {
	defer close(s.done)
	for ev := range s.ch {
		s.consumer.Publish(ev)
	}
}

// NullSink discards all events
type NullSink struct{}

// Publish implements interfaces.EventSink
func (NullSink) Publish(types.ProgressEvent) {}

// FileLogSink writes per-package, append-only log files under a log
// directory. Each package owns one file, so concurrent writers for
// different packages never contend on the same handle.
type FileLogSink struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileLogSink creates the log directory if needed
func NewFileLogSink(dir string) (*FileLogSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &FileLogSink{
		dir:   dir,
		files: make(map[string]*os.File),
	}, nil
}

// Write appends one tagged output line to the package's log file.
// Write errors are swallowed: a broken log sink must not fail builds.
func (s *FileLogSink) Write(line types.LogLine) {
	f, err := s.file(line.Package)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "[%s] [step %d] %s\n", line.Time.Format("15:04:05"), line.Step, line.Line)
}

// Path returns the log file path for a package
func (s *FileLogSink) Path(pkg string) string {
	return filepath.Join(s.dir, pkg+".log")
}

// Close closes all open log files
func (s *FileLogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[string]*os.File)
	return firstErr
}

func (s *FileLogSink) file(pkg string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[pkg]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.Path(pkg), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[pkg] = f
	return f, nil
}
