package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is subscribed to. Sends
// never block: when the buffered channel is full the event is dropped and
// counted.
type Subscriber struct {
	id string
	ch chan *Event

	mu     sync.RWMutex
	topics map[string]struct{}

	// filter is an optional predicate; only matching events are delivered.
	filter func(*Event) bool

	dropped atomic.Int64
	closed  atomic.Bool
	// sendMu serializes send against Close so the channel is never written
	// after it was closed.
	sendMu sync.RWMutex
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed by Close.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events were discarded because the subscriber
// did not keep up.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter sets an optional event filter predicate. It must be called
// before the subscriber is registered with a broker.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.filter = fn
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver an event. It reports false when the event was
// filtered out, the buffer was full, or the subscriber is closed.
func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
