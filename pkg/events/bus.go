package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"
)

// BusConfig configures a Bus. Immutable after construction.
type BusConfig struct {
	// BufferSize bounds the number of published-but-undrained events.
	BufferSize int
	// DropOldest selects the backpressure policy for a full buffer: evict
	// the oldest buffered event (observable via stats) instead of blocking
	// the publisher.
	DropOldest bool
	// Sinks lists the sink kinds to attach at construction.
	Sinks []SinkKind
	// FilePath is the journal path for file-backed sink kinds.
	FilePath string
	// MaxFileBytes is the rotation threshold for SinkRotatingFile.
	MaxFileBytes int64
}

// Handler consumes events delivered to an in-process subscriber.
type Handler func(Event)

// Subscription identifies one registered handler. The value returned by
// Subscribe is the token for Unsubscribe; Go functions are not comparable,
// so handlers cannot identify themselves.
type Subscription struct {
	id       uint64
	pattern  string
	handler  Handler
	once     bool
	priority int
}

// SubscribeOption tunes a subscription.
type SubscribeOption func(*Subscription)

// WithOnce makes the handler self-remove after its first successful
// invocation.
func WithOnce() SubscribeOption {
	return func(s *Subscription) { s.once = true }
}

// WithPriority orders delivery among matching handlers; higher runs first.
func WithPriority(p int) SubscribeOption {
	return func(s *Subscription) { s.priority = p }
}

// BusStats is a point-in-time snapshot of bus counters.
type BusStats struct {
	Published uint64            `json:"published"`
	Dropped   uint64            `json:"dropped"`
	Delivered map[string]uint64 `json:"delivered"`
}

// ErrBusStopped is returned by Publish after Stop.
var ErrBusStopped = errors.New("events: bus stopped")

// Bus accepts events from any number of concurrent producers, buffers them,
// and fans them out to sinks and in-process subscribers from a single
// background drain goroutine.
//
// Ordering: Seq is assigned under the bus mutex at admission, so the global
// order is the order of successful Publish completion; the drain preserves
// buffer order, so no reordering happens once an event is admitted.
//
// The mutex guards only queue and subscriber metadata. Sink I/O and handler
// invocation happen outside the lock so a slow consumer cannot block
// producers.
type Bus struct {
	cfg BusConfig
	log *slog.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	advanced *sync.Cond

	queue     []Event
	seq       uint64
	published uint64
	dropped   uint64
	consumed  uint64 // dispatched or dropped

	sinks     []Sink
	subs      []*Subscription
	nextSubID uint64

	started  bool
	stopping bool
	done     chan struct{}
}

// NewBus constructs a bus with the configured sinks attached.
func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("events: buffer size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 1 << 20
	}

	b := &Bus{
		cfg:  cfg,
		log:  slog.Default().With("component", "events.bus"),
		done: make(chan struct{}),
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	b.advanced = sync.NewCond(&b.mu)

	for _, kind := range cfg.Sinks {
		sink, err := buildSink(kind, cfg)
		if err != nil {
			return nil, err
		}
		b.sinks = append(b.sinks, sink)
	}
	return b, nil
}

func buildSink(kind SinkKind, cfg BusConfig) (Sink, error) {
	switch kind {
	case SinkMemory:
		return NewMemorySink(), nil
	case SinkFile:
		if cfg.FilePath == "" {
			return nil, errors.New("events: file sink requires FilePath")
		}
		return NewFileSink(cfg.FilePath)
	case SinkRotatingFile:
		if cfg.FilePath == "" {
			return nil, errors.New("events: rotating file sink requires FilePath")
		}
		return NewRotatingFileSink(cfg.FilePath, cfg.MaxFileBytes)
	case SinkStdout:
		return NewStdoutSink(), nil
	default:
		return nil, fmt.Errorf("events: unknown sink kind %q", kind)
	}
}

// AttachSink adds a custom sink. Must be called before Start.
func (b *Bus) AttachSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Memory returns the first attached memory sink, or nil.
func (b *Bus) Memory() *MemorySink {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sinks {
		if m, ok := s.(*MemorySink); ok {
			return m
		}
	}
	return nil
}

// Publish admits an event to the buffer, assigning its sequence number.
// With a full buffer it either evicts the oldest buffered event
// (DropOldest) or blocks the caller until the drain frees space. Safe for
// any number of concurrent callers.
func (b *Bus) Publish(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.cfg.DropOldest && len(b.queue) >= b.cfg.BufferSize && !b.stopping {
		b.notFull.Wait()
	}
	if b.stopping {
		return ErrBusStopped
	}
	if b.cfg.DropOldest && len(b.queue) >= b.cfg.BufferSize {
		b.queue = b.queue[1:]
		b.dropped++
		b.consumed++
		b.advanced.Broadcast()
	}

	b.seq++
	ev.Seq = b.seq
	if ev.Timestamp == 0 {
		ev.Timestamp = nowSeconds()
	}
	b.queue = append(b.queue, ev)
	b.published++
	b.notEmpty.Signal()
	return nil
}

// Start spins up the single background drain goroutine.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()
	go b.drain()
}

func (b *Bus) drain() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopping {
			b.notEmpty.Wait()
		}
		if len(b.queue) == 0 && b.stopping {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		sinks := make([]Sink, len(b.sinks))
		copy(sinks, b.sinks)
		subs := b.matchingLocked(ev.Type)
		b.mu.Unlock()

		b.deliver(ev, sinks, subs)

		b.mu.Lock()
		b.consumed++
		b.notFull.Signal()
		b.advanced.Broadcast()
		b.mu.Unlock()
	}
}

func (b *Bus) deliver(ev Event, sinks []Sink, subs []*Subscription) {
	line, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("event marshal failed", "type", ev.Type, "seq", ev.Seq, "error", err)
		return
	}
	for _, s := range sinks {
		if err := s.Write(ev, line); err != nil {
			// One broken sink must not corrupt delivery to the others.
			b.log.Warn("sink write failed", "sink", s.Name(), "seq", ev.Seq, "error", err)
			if ev.Type != TypeIncident {
				b.publishIncident(s.Name(), err)
			}
		}
	}
	for _, sub := range subs {
		b.invoke(sub, ev)
	}
}

// publishIncident surfaces a sink failure on the bus itself. Best effort and
// never blocking: the drain cannot wait on space it is responsible for
// freeing, and incidents about incident delivery are not re-raised.
func (b *Bus) publishIncident(sink string, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping || len(b.queue) >= b.cfg.BufferSize {
		return
	}
	b.seq++
	b.queue = append(b.queue, Event{
		Type:      TypeIncident,
		Seq:       b.seq,
		Timestamp: nowSeconds(),
		Level:     LevelError,
		Payload: map[string]any{
			"code":  "sink_write_failure",
			"sink":  sink,
			"error": cause.Error(),
		},
	})
	b.published++
	b.notEmpty.Signal()
}

func (b *Bus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("subscriber panicked", "pattern", sub.pattern, "type", ev.Type, "panic", r)
		}
	}()
	sub.handler(ev)
	if sub.once {
		b.Unsubscribe(sub)
	}
}

// matchingLocked returns subscriptions matching the type, highest priority
// first, insertion order within equal priority.
func (b *Bus) matchingLocked(eventType string) []*Subscription {
	var out []*Subscription
	for _, sub := range b.subs {
		if ok, err := path.Match(sub.pattern, eventType); err == nil && ok {
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].priority > out[j].priority
	})
	return out
}

// Subscribe registers a handler for event types matching a glob pattern
// (path.Match syntax: '*', '?', character classes).
func (b *Bus) Subscribe(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	if _, err := path.Match(pattern, "probe"); err != nil {
		return nil, fmt.Errorf("events: bad subscription pattern %q: %w", pattern, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &Subscription{id: b.nextSubID, pattern: pattern, handler: h}
	for _, opt := range opts {
		opt(sub)
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Unsubscribe removes a subscription. Removing an already-removed
// subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Flush blocks until every event buffered at call time has been dispatched
// or dropped, then flushes all sinks. On a bus that was never started it
// only flushes the sinks.
func (b *Bus) Flush() error {
	b.mu.Lock()
	if b.started {
		target := b.consumed + uint64(len(b.queue))
		for b.consumed < target {
			b.advanced.Wait()
		}
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop cancels the drain goroutine after a bounded attempt to deliver what
// remains buffered. The drain races the 2s bound: events still queued when
// the bound fires stay undelivered, which is why graceful paths call Flush
// before Stop. Publish returns ErrBusStopped afterwards.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	wasStarted := b.started
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	b.mu.Unlock()

	if wasStarted {
		select {
		case <-b.done:
		case <-time.After(2 * time.Second):
			b.log.Warn("stop timed out before buffer fully drained")
		}
	}

	var firstErr error
	b.mu.Lock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()
	for _, s := range sinks {
		if err := s.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stats returns the published/dropped counters and per-sink delivery counts.
func (b *Bus) Stats() BusStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := make(map[string]uint64, len(b.sinks))
	for _, s := range b.sinks {
		delivered[s.Name()] = s.Stats().Written
	}
	return BusStats{
		Published: b.published,
		Dropped:   b.dropped,
		Delivered: delivered,
	}
}
