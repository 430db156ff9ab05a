package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	owner   string
	expires time.Time
}

// Memory is an in-process Backend. Expired entries are discarded when they
// are next looked at.
type Memory struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]entry), now: time.Now}
}

var _ Backend = (*Memory)(nil)

// TryLock implements Backend.
func (m *Memory) TryLock(_ context.Context, id, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.liveLocked(id); held {
		return false, nil
	}
	e := entry{owner: owner}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.locks[id] = e
	return true, nil
}

// Unlock implements Backend.
func (m *Memory) Unlock(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	return nil
}

// Owner implements Backend.
func (m *Memory) Owner(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.liveLocked(id)
	return e.owner, nil
}

func (m *Memory) liveLocked(id string) (entry, bool) {
	e, ok := m.locks[id]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.locks, id)
		return entry{}, false
	}
	return e, true
}
