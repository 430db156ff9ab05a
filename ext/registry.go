package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zendesk/samson-sub001/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobQueuedEntry struct {
	name string
	hook JobQueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobFinishedEntry struct {
	name string
	hook JobFinished
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Emit methods are called from execution goroutines; Register may run
// concurrently with them.
type Registry struct {
	mu         sync.RWMutex
	extensions []Extension
	logger     *slog.Logger

	jobQueued   []jobQueuedEntry
	jobStarted  []jobStartedEntry
	jobFinished []jobFinishedEntry
	shutdown    []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobQueued); ok {
		r.jobQueued = append(r.jobQueued, jobQueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobFinished); ok {
		r.jobFinished = append(r.jobFinished, jobFinishedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobQueued notifies all extensions that implement JobQueued.
func (r *Registry) EmitJobQueued(ctx context.Context, j *job.Job, key string, queued bool) {
	r.mu.RLock()
	entries := r.jobQueued
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnJobQueued(ctx, j, key, queued); err != nil {
			r.logHookError("OnJobQueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	entries := r.jobStarted
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobFinished notifies all extensions that implement JobFinished.
func (r *Registry) EmitJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) {
	r.mu.RLock()
	entries := r.jobFinished
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnJobFinished(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobFinished", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	entries := r.shutdown
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never reach the execution that emitted the event.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
