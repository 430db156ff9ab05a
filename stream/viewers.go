package stream

import (
	"slices"
	"sync"
)

// Viewers is the ordered set of users currently watching a job. It is safe
// for concurrent use.
type Viewers struct {
	mu    sync.Mutex
	names []string
	hooks []func([]string)
}

// NewViewers creates an empty viewer set.
func NewViewers() *Viewers {
	return &Viewers{}
}

// OnChange registers fn to be called with the new list after every
// mutation. Hooks run synchronously, outside the set's lock.
func (v *Viewers) OnChange(fn func([]string)) {
	v.mu.Lock()
	v.hooks = append(v.hooks, fn)
	v.mu.Unlock()
}

// Push adds name unless it is already present.
func (v *Viewers) Push(name string) {
	v.mu.Lock()
	if slices.Contains(v.names, name) {
		v.mu.Unlock()
		return
	}
	v.names = append(v.names, name)
	v.changedLocked()
}

// Delete removes name if present.
func (v *Viewers) Delete(name string) {
	v.mu.Lock()
	i := slices.Index(v.names, name)
	if i < 0 {
		v.mu.Unlock()
		return
	}
	v.names = slices.Delete(v.names, i, i+1)
	v.changedLocked()
}

// List returns a copy of the current viewers in arrival order.
func (v *Viewers) List() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.names)
}

// Len returns the number of viewers.
func (v *Viewers) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.names)
}

// changedLocked releases the lock and runs the change hooks.
func (v *Viewers) changedLocked() {
	list := slices.Clone(v.names)
	hooks := slices.Clone(v.hooks)
	v.mu.Unlock()
	for _, fn := range hooks {
		fn(list)
	}
}
