// Package output provides the replaying broadcast buffer that carries a
// job's live output. A Buffer keeps an ordered log of events; every
// subscriber receives the whole retained log followed by every later event,
// regardless of when it subscribed.
package output

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

// ErrClosed is returned by writes to a closed Buffer.
var ErrClosed = errors.New("output: buffer closed")

// EventType identifies what an Event carries.
type EventType string

const (
	// EventMessage carries a chunk of command output.
	EventMessage EventType = "message"
	// EventStarted marks the moment the job began running.
	EventStarted EventType = "started"
	// EventFinished marks the end of the job.
	EventFinished EventType = "finished"
	// EventViewers carries the current viewer list as a JSON array.
	EventViewers EventType = "viewers"
	// EventReloaded tells viewers the job record changed and should be
	// fetched again.
	EventReloaded EventType = "reloaded"
	// EventTruncated is delivered to a subscriber whose position in the log
	// was dropped by the backlog limit. Data holds the number of skipped
	// events.
	EventTruncated EventType = "truncated"
)

// Event is one entry of the buffer log.
type Event struct {
	Type EventType `json:"type"`
	Data string    `json:"data"`
}

// Buffer is a multi-consumer, append-only event log. It is safe for
// concurrent use.
type Buffer struct {
	mu        sync.Mutex
	events    []Event
	base      int // absolute index of events[0]
	maxEvents int
	closed    bool
	changed   chan struct{}
	hooks     []func(Event)
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxEvents bounds the retained log. Zero keeps everything.
func WithMaxEvents(n int) Option {
	return func(b *Buffer) { b.maxEvents = n }
}

// NewBuffer creates an empty, open Buffer.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{changed: make(chan struct{})}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnWrite registers fn to be called synchronously after every appended
// event, including out-of-band ones.
func (b *Buffer) OnWrite(fn func(Event)) {
	b.mu.Lock()
	b.hooks = append(b.hooks, fn)
	b.mu.Unlock()
}

// Write appends p as a message event. It implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := b.append(Event{Type: EventMessage, Data: string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString appends s as a message event.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Emit appends an out-of-band event. Out-of-band events reach subscribers
// in order with messages but are excluded from String.
func (b *Buffer) Emit(typ EventType, data string) error {
	return b.append(Event{Type: typ, Data: data})
}

func (b *Buffer) append(evt Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.events = append(b.events, evt)
	b.trimLocked()
	b.notifyLocked()
	hooks := b.hooks
	b.mu.Unlock()

	for _, fn := range hooks {
		fn(evt)
	}
	return nil
}

// trimLocked drops the oldest events once the log outgrows maxEvents. It
// drops a tenth of the limit at a time so the copy is amortized.
func (b *Buffer) trimLocked() {
	if b.maxEvents <= 0 || len(b.events) <= b.maxEvents {
		return
	}
	drop := len(b.events) - b.maxEvents + b.maxEvents/10
	if drop > len(b.events) {
		drop = len(b.events)
	}
	kept := make([]Event, len(b.events)-drop, cap(b.events))
	copy(kept, b.events[drop:])
	b.events = kept
	b.base += drop
}

func (b *Buffer) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Close marks the buffer terminal. Subscribers drain the remaining log and
// then stop. Close is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.notifyLocked()
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the total number of events ever appended, including dropped
// ones.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base + len(b.events)
}

// String returns the retained message text.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	for _, e := range b.events {
		if e.Type == EventMessage {
			sb.WriteString(e.Data)
		}
	}
	return sb.String()
}

// read returns the events at and after cursor. When cursor points at dropped
// history, skipped reports how many events were lost and the batch starts
// at the oldest retained event.
func (b *Buffer) read(cursor int) (batch []Event, next, skipped int, wait <-chan struct{}, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cursor < b.base {
		skipped = b.base - cursor
		cursor = b.base
	}
	if rel := cursor - b.base; rel < len(b.events) {
		batch = make([]Event, len(b.events)-rel)
		copy(batch, b.events[rel:])
	}
	return batch, cursor + len(batch), skipped, b.changed, b.closed
}

// Subscribe returns a channel that yields the retained log followed by every
// later event. The channel is closed once the buffer is closed and drained,
// or when ctx is done. Each subscription is delivered by its own goroutine,
// so a slow reader never blocks writers or other readers.
func (b *Buffer) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		cursor := 0
		for {
			batch, next, skipped, wait, closed := b.read(cursor)
			if skipped > 0 {
				truncated := Event{Type: EventTruncated, Data: strconv.Itoa(skipped)}
				select {
				case ch <- truncated:
				case <-ctx.Done():
					return
				}
			}
			for _, evt := range batch {
				select {
				case ch <- evt:
				case <-ctx.Done():
					return
				}
			}
			cursor = next
			if len(batch) > 0 || skipped > 0 {
				continue
			}
			if closed {
				return
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Each calls fn for every event of a subscription until the buffer is
// closed, ctx is done, or fn returns an error.
func (b *Buffer) Each(ctx context.Context, fn func(Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for evt := range b.Subscribe(ctx) {
		if err := fn(evt); err != nil {
			return err
		}
	}
	return ctx.Err()
}
