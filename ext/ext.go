package ext

import (
	"context"
	"time"

	"github.com/zendesk/samson-sub001/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobQueued is called when an execution is handed to the queue.
// queued reports whether it has to wait behind another execution for the
// same key.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job, key string, queued bool) error
}

// JobStarted is called when an execution begins running.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobFinished is called once an execution reached a terminal status.
// j.Status and j.Output hold the final values.
type JobFinished interface {
	OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown, after the scheduler drained.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
