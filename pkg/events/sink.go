package events

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// SinkKind selects a sink variant in BusConfig. The set is closed; custom
// consumers attach through Bus.AttachSink instead.
type SinkKind string

const (
	SinkMemory       SinkKind = "memory"
	SinkFile         SinkKind = "file"
	SinkRotatingFile SinkKind = "rotating_file"
	SinkStdout       SinkKind = "stdout"
)

// SinkStats reports what a sink has seen.
type SinkStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
}

// Sink consumes serialized events. Sinks are independent and side-effect
// only; a sink error never corrupts delivery to other sinks.
type Sink interface {
	Name() string
	Write(ev Event, line []byte) error
	Flush() error
	Stats() SinkStats
}

// SinkWriteError wraps a sink persistence failure. It is emitted as an
// Incident event by the bus and surfaced to persistence callers, but never
// crashes the drain task.
type SinkWriteError struct {
	Sink string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("events: sink %q write failed: %v", e.Sink, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// MemorySink keeps delivered events in order, for tests and post-run
// inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	stats  SinkStats
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return string(SinkMemory) }

func (s *MemorySink) Write(ev Event, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.stats.Written++
	return nil
}

func (s *MemorySink) Flush() error { return nil }

func (s *MemorySink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Events returns a copy of everything delivered so far, in delivery order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType returns delivered events whose type matches exactly.
func (s *MemorySink) EventsOfType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// FileSink appends one JSON object per line to a file.
type FileSink struct {
	mu    sync.Mutex
	name  string
	file  *os.File
	stats SinkStats
}

// NewFileSink opens (or creates) the journal file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: open journal %s: %w", path, err)
	}
	return &FileSink{name: string(SinkFile), file: f}, nil
}

func (s *FileSink) Name() string { return s.name }

func (s *FileSink) Write(_ Event, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return &SinkWriteError{Sink: s.name, Err: err}
	}
	s.stats.Written++
	return nil
}

func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

func (s *FileSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// RotatingFileSink behaves like FileSink but rolls to a numbered sibling
// file once the current file passes MaxBytes.
type RotatingFileSink struct {
	mu       sync.Mutex
	base     string
	maxBytes int64
	index    int
	size     int64
	file     *os.File
	stats    SinkStats
}

// NewRotatingFileSink opens base as the first segment; segments past the
// first are written as "<base>.1", "<base>.2", and so on.
func NewRotatingFileSink(base string, maxBytes int64) (*RotatingFileSink, error) {
	f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: open journal %s: %w", base, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &RotatingFileSink{base: base, maxBytes: maxBytes, size: info.Size(), file: f}, nil
}

func (s *RotatingFileSink) Name() string { return string(SinkRotatingFile) }

func (s *RotatingFileSink) Write(_ Event, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+int64(len(line))+1 > s.maxBytes && s.size > 0 {
		if err := s.rotateLocked(); err != nil {
			return &SinkWriteError{Sink: s.Name(), Err: err}
		}
	}
	n, err := s.file.Write(append(line, '\n'))
	s.size += int64(n)
	if err != nil {
		return &SinkWriteError{Sink: s.Name(), Err: err}
	}
	s.stats.Written++
	return nil
}

func (s *RotatingFileSink) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	s.index++
	next := fmt.Sprintf("%s.%d", s.base, s.index)
	f, err := os.OpenFile(next, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	s.size = 0
	return nil
}

func (s *RotatingFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

func (s *RotatingFileSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close flushes and closes the current segment.
func (s *RotatingFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// WriterSink writes JSON lines to an arbitrary writer, os.Stdout by default.
// Injection of the writer follows the audit-logger pattern so tests can
// capture output.
type WriterSink struct {
	mu    sync.Mutex
	name  string
	w     io.Writer
	stats SinkStats
}

// NewStdoutSink creates a sink writing to os.Stdout.
func NewStdoutSink() *WriterSink {
	return NewWriterSink(string(SinkStdout), os.Stdout)
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(name string, w io.Writer) *WriterSink {
	return &WriterSink{name: name, w: w}
}

func (s *WriterSink) Name() string { return s.name }

func (s *WriterSink) Write(_ Event, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return &SinkWriteError{Sink: s.name, Err: err}
	}
	s.stats.Written++
	return nil
}

func (s *WriterSink) Flush() error { return nil }

func (s *WriterSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
