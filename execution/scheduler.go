package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/ext"
	"github.com/zendesk/samson-sub001/job"
	"github.com/zendesk/samson-sub001/lock"
	"github.com/zendesk/samson-sub001/middleware"
	"github.com/zendesk/samson-sub001/queue"
	"github.com/zendesk/samson-sub001/terminal"
)

// DefaultHookTimeout bounds the JobFinished hooks of one run.
const DefaultHookTimeout = time.Minute

// Scheduler owns the registry of in-flight executions and the per-key
// queue. One Scheduler is created per process and shared by everything
// that starts or inspects jobs.
type Scheduler struct {
	store  job.Store
	locks  *lock.MultiLock
	exts   *ext.Registry
	mws    []middleware.Middleware
	mw     middleware.Middleware
	logger *slog.Logger
	queue  *queue.Queue

	cacheDir     string
	workspaceDir string
	grace        time.Duration
	lockTimeout  time.Duration
	jobTimeout   time.Duration
	hookTimeout  time.Duration
	persistRate  rate.Limit
	backlog      int
	verbose      bool
	pty          bool

	mu       sync.RWMutex
	registry map[string]*Execution

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithExtensions sets the extension registry notified of lifecycle events.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Scheduler) { s.exts = r }
}

// WithMiddleware replaces the middleware wrapping every run body.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Scheduler) { s.mws = mws }
}

// WithJobTimeout bounds every run. Zero means no limit.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.jobTimeout = d }
}

// WithHookTimeout bounds the JobFinished extension hooks of one run.
func WithHookTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.hookTimeout = d }
}

// WithCacheDir sets where repository mirrors are kept.
func WithCacheDir(dir string) Option {
	return func(s *Scheduler) { s.cacheDir = dir }
}

// WithWorkspaceDir sets where temporary checkouts are created.
func WithWorkspaceDir(dir string) Option {
	return func(s *Scheduler) { s.workspaceDir = dir }
}

// WithGracePeriod sets how long stopped commands get before SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// WithLockTimeout bounds the wait for a project lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.lockTimeout = d }
}

// WithPersistRate sets how many output mirror writes per second each
// execution may issue.
func WithPersistRate(perSecond float64) Option {
	return func(s *Scheduler) { s.persistRate = rate.Limit(perSecond) }
}

// WithOutputBacklog bounds the events retained per output buffer.
func WithOutputBacklog(n int) Option {
	return func(s *Scheduler) { s.backlog = n }
}

// WithVerbose echoes commands before running them.
func WithVerbose(v bool) Option {
	return func(s *Scheduler) { s.verbose = v }
}

// WithPTY runs commands attached to a pseudo-terminal.
func WithPTY(v bool) Option {
	return func(s *Scheduler) { s.pty = v }
}

// WithEnabled sets whether executions start. Defaults to true.
func WithEnabled(enabled bool) Option {
	return func(s *Scheduler) { s.queue.SetEnabled(enabled) }
}

// DefaultMiddleware is the chain used when none is configured.
func DefaultMiddleware(logger *slog.Logger) []middleware.Middleware {
	return []middleware.Middleware{
		middleware.Logging(logger),
		middleware.Recover(logger),
		middleware.Metrics(),
		middleware.Tracing(),
	}
}

// NewScheduler creates a Scheduler persisting through store and locking
// repositories through locks.
func NewScheduler(store job.Store, locks *lock.MultiLock, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		locks:        locks,
		logger:       slog.Default(),
		queue:        queue.New(),
		cacheDir:     "/tmp/samson/cache",
		workspaceDir: "/tmp/samson/workspaces",
		grace:        terminal.DefaultGracePeriod,
		lockTimeout:  10 * time.Minute,
		hookTimeout:  DefaultHookTimeout,
		persistRate:  1,
		registry:     make(map[string]*Execution),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hookTimeout <= 0 {
		s.hookTimeout = DefaultHookTimeout
	}
	if s.exts == nil {
		s.exts = ext.NewRegistry(s.logger)
	}
	if s.mws == nil {
		s.mws = DefaultMiddleware(s.logger)
	}
	// The timeout is innermost so logging and metrics see the outcome.
	s.mw = middleware.Chain(append(s.mws, middleware.Timeout(s.logger, s.jobTimeout))...)
	return s
}

// Extensions returns the extension registry.
func (s *Scheduler) Extensions() *ext.Registry { return s.exts }

// StartJob creates an execution for req and hands it to its queue. It does
// not wait for the run. While the scheduler is disabled the execution is
// returned unregistered and never starts.
func (s *Scheduler) StartJob(ctx context.Context, req StartRequest) (*Execution, error) {
	if req.Job == nil || req.Job.ID == "" {
		return nil, errors.New("execution: start request without job")
	}
	e := newExecution(s, req)

	if !s.Enabled() {
		s.logger.Warn("job execution disabled, not starting job", slog.String("job_id", e.ID()))
		return e, nil
	}

	s.mu.Lock()
	if _, exists := s.registry[e.ID()]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("execution %s: %w", e.ID(), samson.ErrJobAlreadyExists)
	}
	s.registry[e.ID()] = e
	s.mu.Unlock()

	queued := s.queue.Add(e.QueueKey(), e)
	if queued {
		s.logger.Info("job queued",
			slog.String("job_id", e.ID()),
			slog.String("queue", e.QueueKey()),
		)
	}
	s.exts.EmitJobQueued(ctx, e.job, e.QueueKey(), queued)
	close(e.ready)
	return e, nil
}

// release removes a finished execution from the registry and frees its
// queue key for the next one.
func (s *Scheduler) release(e *Execution) {
	s.mu.Lock()
	if s.registry[e.ID()] == e {
		delete(s.registry, e.ID())
	}
	s.mu.Unlock()
	s.queue.Pop(e.QueueKey(), e)
}

// FindByJob returns the in-flight execution of a job.
func (s *Scheduler) FindByJob(jobID string) (*Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.registry[jobID]
	return e, ok
}

// Active returns running executions ordered by queue key.
func (s *Scheduler) Active() []*Execution {
	return executions(s.queue.Executing())
}

// Queued returns waiting executions ordered by queue key, then FIFO.
func (s *Scheduler) Queued() []*Execution {
	return executions(s.queue.Waiting())
}

func executions(entries []queue.Entry) []*Execution {
	out := make([]*Execution, 0, len(entries))
	for _, en := range entries {
		if e, ok := en.(*Execution); ok {
			out = append(out, e)
		}
	}
	return out
}

// ActiveCount returns the number of running executions.
func (s *Scheduler) ActiveCount() int { return s.queue.ActiveCount() }

// QueuedCount returns the number of waiting executions.
func (s *Scheduler) QueuedCount() int { return s.queue.QueuedCount() }

// Debug returns a snapshot of the queue.
func (s *Scheduler) Debug() queue.Snapshot { return s.queue.Debug() }

// Enabled reports whether new executions start.
func (s *Scheduler) Enabled() bool { return s.queue.Enabled() }

// SetEnabled toggles execution. Re-enabling starts the head of every idle
// queue key.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.logger.Info("job execution toggled", slog.Bool("enabled", enabled))
	s.queue.SetEnabled(enabled)
}

// Stop stops the execution of jobID.
func (s *Scheduler) Stop(ctx context.Context, jobID string) error {
	e, ok := s.FindByJob(jobID)
	if !ok {
		return fmt.Errorf("execution %s: %w", jobID, samson.ErrJobNotFound)
	}
	return e.Stop(ctx)
}

// CancelQueued cancels every execution that has not started yet, writing
// reason to its output. It returns how many were cancelled.
func (s *Scheduler) CancelQueued(ctx context.Context, reason string) int {
	n := 0
	for _, e := range s.Queued() {
		if _, ok := s.queue.Dequeue(e.ID()); !ok {
			continue
		}
		s.logger.Warn("cancelling queued job",
			slog.String("job_id", e.ID()),
			slog.String("reason", reason),
		)
		e.cancelQueued(ctx, reason+"\n")
		n++
	}
	return n
}

// Wait blocks until every started run goroutine returned or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
