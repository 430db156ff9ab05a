package queue

import (
	"log/slog"
	"sort"
	"sync"
)

// Entry is something the queue can start. IDs must be unique across keys.
type Entry interface {
	ID() string
	// Start begins running the entry. It must not block.
	Start()
}

// Queue serializes entries per key: at most one entry per key is active,
// the rest wait in FIFO order. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	enabled bool
	active  map[string]Entry
	queued  map[string][]Entry
	logger  *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithEnabled sets whether entries start. Defaults to true.
func WithEnabled(enabled bool) Option {
	return func(q *Queue) { q.enabled = enabled }
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		enabled: true,
		active:  make(map[string]Entry),
		queued:  make(map[string][]Entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add starts e if nothing is active for key and the queue is enabled;
// otherwise e waits behind the entries already queued for key. It reports
// whether e was queued.
func (q *Queue) Add(key string, e Entry) bool {
	q.mu.Lock()
	if _, busy := q.active[key]; busy || !q.enabled {
		q.queued[key] = append(q.queued[key], e)
		depth := len(q.queued[key])
		q.mu.Unlock()
		q.logger.Debug("entry queued",
			slog.String("key", key),
			slog.String("id", e.ID()),
			slog.Int("depth", depth),
		)
		return true
	}
	q.active[key] = e
	q.mu.Unlock()

	e.Start()
	return false
}

// Pop removes e as the active entry for key and starts the next queued one.
// Popping an entry that is not active for key does nothing.
func (q *Queue) Pop(key string, e Entry) {
	q.mu.Lock()
	current, ok := q.active[key]
	if !ok || current.ID() != e.ID() {
		q.mu.Unlock()
		q.logger.Debug("ignored pop of inactive entry",
			slog.String("key", key),
			slog.String("id", e.ID()),
		)
		return
	}
	delete(q.active, key)
	next := q.promoteLocked(key)
	q.mu.Unlock()

	if next != nil {
		next.Start()
	}
}

// promoteLocked makes the head of key's queue active, if the queue is
// enabled and the key is idle. Empty keys are deleted.
func (q *Queue) promoteLocked(key string) Entry {
	waiting := q.queued[key]
	if len(waiting) == 0 {
		delete(q.queued, key)
		return nil
	}
	if !q.enabled {
		return nil
	}
	if _, busy := q.active[key]; busy {
		return nil
	}
	next := waiting[0]
	if len(waiting) == 1 {
		delete(q.queued, key)
	} else {
		q.queued[key] = waiting[1:]
	}
	q.active[key] = next
	return next
}

// Dequeue removes a waiting entry by id and returns it. Active entries are
// not affected.
func (q *Queue) Dequeue(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key, waiting := range q.queued {
		for i, e := range waiting {
			if e.ID() != id {
				continue
			}
			rest := append(waiting[:i:i], waiting[i+1:]...)
			if len(rest) == 0 {
				delete(q.queued, key)
			} else {
				q.queued[key] = rest
			}
			return e, true
		}
	}
	return nil, false
}

// SetEnabled turns starting on or off. Enabling starts the head of every
// key that has waiting entries but nothing active.
func (q *Queue) SetEnabled(enabled bool) {
	q.mu.Lock()
	q.enabled = enabled
	var start []Entry
	if enabled {
		for key := range q.queued {
			if next := q.promoteLocked(key); next != nil {
				start = append(start, next)
			}
		}
	}
	q.mu.Unlock()

	for _, e := range start {
		e.Start()
	}
}

// Enabled reports whether entries are started.
func (q *Queue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Active reports whether id is the active entry for key.
func (q *Queue) Active(key, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.active[key]
	return ok && e.ID() == id
}

// Queued reports whether id is waiting under key.
func (q *Queue) Queued(key, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.queued[key] {
		if e.ID() == id {
			return true
		}
	}
	return false
}

// Find returns the active or waiting entry with id.
func (q *Queue) Find(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.active {
		if e.ID() == id {
			return e, true
		}
	}
	for _, waiting := range q.queued {
		for _, e := range waiting {
			if e.ID() == id {
				return e, true
			}
		}
	}
	return nil, false
}

// ActiveCount returns the number of active entries.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// QueuedCount returns the number of waiting entries.
func (q *Queue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, waiting := range q.queued {
		n += len(waiting)
	}
	return n
}

// Executing returns the active entries ordered by key.
func (q *Queue) Executing() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := sortedKeys(q.active)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, q.active[k])
	}
	return out
}

// Waiting returns the queued entries ordered by key, FIFO within a key.
func (q *Queue) Waiting() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for _, k := range sortedKeys(q.queued) {
		out = append(out, q.queued[k]...)
	}
	return out
}

// Snapshot is a point-in-time view of the queue by entry id.
type Snapshot struct {
	Enabled bool                `json:"enabled"`
	Active  map[string]string   `json:"active"`
	Queued  map[string][]string `json:"queued"`
}

// Debug returns a Snapshot.
func (q *Queue) Debug() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Snapshot{
		Enabled: q.enabled,
		Active:  make(map[string]string, len(q.active)),
		Queued:  make(map[string][]string, len(q.queued)),
	}
	for k, e := range q.active {
		s.Active[k] = e.ID()
	}
	for k, waiting := range q.queued {
		ids := make([]string, len(waiting))
		for i, e := range waiting {
			ids[i] = e.ID()
		}
		s.Queued[k] = ids
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
