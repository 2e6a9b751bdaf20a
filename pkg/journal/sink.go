package journal

import (
	"context"
	"sync"

	"github.com/Attestor-Labs/attestor/pkg/events"
)

// Sink adapts a Store to the event bus so the drain goroutine persists
// every admitted event durably alongside the JSONL journal.
type Sink struct {
	store *Store

	mu    sync.Mutex
	stats events.SinkStats
}

// NewSink wraps a store as a bus sink.
func NewSink(store *Store) *Sink {
	return &Sink{store: store}
}

func (s *Sink) Name() string { return "journal" }

func (s *Sink) Write(ev events.Event, _ []byte) error {
	err := s.store.Append(context.Background(), ev.RunID, ev.Seq,
		ev.Type, ev.TraceID, ev.Phase, string(ev.Level), ev.Timestamp, ev.Payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Dropped++
		return &events.SinkWriteError{Sink: s.Name(), Err: err}
	}
	s.stats.Written++
	return nil
}

func (s *Sink) Flush() error { return nil }

func (s *Sink) Stats() events.SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
