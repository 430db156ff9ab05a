package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/git"
	"github.com/zendesk/samson-sub001/job"
	"github.com/zendesk/samson-sub001/lock"
	"github.com/zendesk/samson-sub001/middleware"
	"github.com/zendesk/samson-sub001/output"
	"github.com/zendesk/samson-sub001/stream"
	"github.com/zendesk/samson-sub001/terminal"
)

// Project identifies the repository an execution checks out. An empty
// Repository skips the git steps and runs the commands in an empty
// directory.
type Project struct {
	ID         string
	Name       string
	Repository string
}

// StartRequest describes a job to run.
type StartRequest struct {
	// Reference is the branch, tag or commit to deploy.
	Reference string
	Job       *job.Job
	// QueueKey serializes executions; defaults to the job id.
	QueueKey string
	// Commands defaults to Job.Commands.
	Commands []string
	Project  Project
	// Stage is the stage name exported as STAGE_NAME.
	Stage string
	// Env is added to the command environment.
	Env map[string]string
}

// Result is the outcome of an execution.
type Result struct {
	Status   job.Status    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Execution is one in-flight run of a job. It is created by
// Scheduler.StartJob and lives until its result is published.
type Execution struct {
	s   *Scheduler
	req StartRequest
	job *job.Job

	buf     *output.Buffer
	viewers *stream.Viewers
	owner   string

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{} // closed once StartJob finished queueing
	started   chan struct{}
	startOnce sync.Once
	done      chan struct{}

	stopped    atomic.Bool
	finishOnce sync.Once

	mu        sync.Mutex
	executor  *terminal.Executor
	startedAt time.Time
	result    Result
	listeners []func(Result)

	mirrorMu sync.Mutex
	mirror   terminal.Aggregator
	limiter  *rate.Limiter
}

func newExecution(s *Scheduler, req StartRequest) *Execution {
	if req.QueueKey == "" {
		req.QueueKey = req.Job.ID
	}
	if len(req.Commands) == 0 {
		req.Commands = req.Job.Commands
	}
	if req.Reference == "" {
		req.Reference = req.Job.Reference
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Execution{
		s:       s,
		req:     req,
		job:     req.Job,
		buf:     output.NewBuffer(output.WithMaxEvents(s.backlog)),
		viewers: stream.NewViewers(),
		owner:   req.Job.ID + "@" + lock.NewOwner(),
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(s.persistRate, 1),
	}

	e.viewers.OnChange(func(names []string) {
		data, _ := json.Marshal(names)
		_ = e.buf.Emit(output.EventViewers, string(data))
	})
	e.buf.OnWrite(e.persist)
	return e
}

// ID implements queue.Entry; it is the job id.
func (e *Execution) ID() string { return e.job.ID }

// Job returns a copy of the job handle as the execution last saw it.
func (e *Execution) Job() job.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.job
}

// QueueKey returns the key this execution is serialized on.
func (e *Execution) QueueKey() string { return e.req.QueueKey }

// Reference returns the requested git reference.
func (e *Execution) Reference() string { return e.req.Reference }

// Output returns the live output buffer.
func (e *Execution) Output() *output.Buffer { return e.buf }

// OutputText returns the output rendered the way a terminal shows it.
func (e *Execution) OutputText() string {
	e.mirrorMu.Lock()
	defer e.mirrorMu.Unlock()
	return e.mirror.String()
}

// Viewers returns the set of users watching this execution.
func (e *Execution) Viewers() *stream.Viewers { return e.viewers }

// Started is closed once the execution left the queue.
func (e *Execution) Started() <-chan struct{} { return e.started }

// Done is closed once the result is available.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Stopped reports whether Stop was called.
func (e *Execution) Stopped() bool { return e.stopped.Load() }

// Active reports whether the execution is running.
func (e *Execution) Active() bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case <-e.started:
		return true
	default:
		return false
	}
}

// Result returns the outcome. It is the zero Result until Done is closed.
func (e *Execution) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Wait blocks until the execution finished or ctx is done.
func (e *Execution) Wait(ctx context.Context) (Result, error) {
	select {
	case <-e.done:
		return e.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// OnComplete registers fn to receive the result exactly once. If the
// execution already finished fn is called immediately.
func (e *Execution) OnComplete(fn func(Result)) {
	e.mu.Lock()
	select {
	case <-e.done:
		res := e.result
		e.mu.Unlock()
		fn(res)
		return
	default:
	}
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// PID returns the process id of the running shell, or 0.
func (e *Execution) PID() int {
	e.mu.Lock()
	ex := e.executor
	e.mu.Unlock()
	if ex == nil {
		return 0
	}
	return ex.PID()
}

// Start implements queue.Entry. It launches the run on its own goroutine
// once, after the scheduler finished registering the execution.
func (e *Execution) Start() {
	e.startOnce.Do(func() {
		close(e.started)
		e.s.wg.Add(1)
		go func() {
			defer e.s.wg.Done()
			<-e.ready
			e.run()
		}()
	})
}

// Stop cancels the execution. A queued execution is removed from its queue
// and marked cancelled; a running one is interrupted. Calling Stop again or
// on a finished execution is a no-op.
func (e *Execution) Stop(ctx context.Context) error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-e.done:
		return nil
	default:
	}

	if _, ok := e.s.queue.Dequeue(e.ID()); ok {
		e.cancelQueued(ctx, "Job cancelled before it started.\n")
		return nil
	}

	e.s.logger.Info("stopping execution", slog.String("job_id", e.ID()))
	e.cancel()
	return nil
}

// cancelQueued finishes an execution that never ran.
func (e *Execution) cancelQueued(ctx context.Context, msg string) {
	e.stopped.Store(true)
	_, _ = e.buf.WriteString(msg)
	e.finish(ctx, job.StatusCancelled, "")
	e.s.release(e)
	e.publish()
}

func (e *Execution) run() {
	ctx := e.ctx
	defer e.cancel()

	start := time.Now()
	e.mu.Lock()
	e.startedAt = start
	e.mu.Unlock()

	defer func() {
		// Always free the queue key, even if something below panicked.
		if v := recover(); v != nil {
			e.s.logger.Error("execution panicked",
				slog.String("job_id", e.ID()),
				slog.Any("panic", v),
			)
			e.finish(ctx, job.StatusErrored, fmt.Sprint(v))
		}
		e.s.release(e)
		e.publish()
	}()

	e.updateStatus(ctx, job.StatusRunning, "")
	_ = e.buf.Emit(output.EventStarted, "")
	e.s.exts.EmitJobStarted(ctx, e.job)

	r := &middleware.Run{Job: e.job, Stage: e.req.Stage, QueueKey: e.req.QueueKey}
	err := e.s.mw(ctx, r, func(ctx context.Context) error {
		status, err := e.perform(ctx)
		r.Status = status
		return err
	})

	status, errMsg := r.Status, ""
	switch {
	case err != nil:
		status, errMsg = job.StatusErrored, err.Error()
		var pe *middleware.PanicError
		if errors.As(err, &pe) {
			_, _ = fmt.Fprintf(e.buf, "%s\n%s\n", pe.Error(), pe.Stack)
		} else {
			_, _ = fmt.Fprintf(e.buf, "Job errored: %s\n", err)
		}
	case status != job.StatusSucceeded && e.stopped.Load():
		status = job.StatusCancelled
	case status == "":
		status = job.StatusErrored
	}
	if status == job.StatusCancelled {
		errMsg = ""
	}

	e.finish(ctx, status, errMsg)
}

// perform runs the checkout and the commands. It returns an error only for
// unexpected failures; expected ones are a failed status.
func (e *Execution) perform(ctx context.Context) (job.Status, error) {
	if e.stopped.Load() {
		return job.StatusCancelled, nil
	}

	if err := os.MkdirAll(e.s.workspaceDir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	dir, err := os.MkdirTemp(e.s.workspaceDir, e.ID()+"-")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	var repo *git.Repository
	if e.req.Project.Repository != "" {
		repo = git.New(e.req.Project.Repository, e.s.cacheDir, e.req.Project.ID)
	}
	defer e.removeWorkspace(repo, dir)

	commit, tag := "", ""
	if repo != nil {
		var status job.Status
		commit, tag, status, err = e.checkout(ctx, repo, dir)
		if err != nil || status != "" {
			return status, err
		}
	}

	if e.stopped.Load() {
		return job.StatusCancelled, nil
	}

	ex := terminal.NewExecutor(e.buf,
		terminal.WithDir(dir),
		terminal.WithEnv(e.environment(commit, tag)...),
		terminal.WithVerbose(e.s.verbose),
		terminal.WithPTY(e.s.pty),
		terminal.WithGracePeriod(e.s.grace),
		terminal.WithLogger(e.s.logger),
	)
	e.mu.Lock()
	e.executor = ex
	e.mu.Unlock()
	if e.stopped.Load() {
		return job.StatusCancelled, nil
	}

	ok, err := ex.Execute(ctx, e.req.Commands...)
	if err != nil {
		return "", err
	}
	switch {
	case ok:
		return job.StatusSucceeded, nil
	case e.stopped.Load():
		return job.StatusCancelled, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		_, _ = e.buf.WriteString("Job timed out.\n")
		return job.StatusFailed, nil
	default:
		return job.StatusFailed, nil
	}
}

// checkoutError marks failures of the git steps, which fail the job
// instead of erroring it.
type checkoutError struct{ err error }

func (c *checkoutError) Error() string { return c.err.Error() }
func (c *checkoutError) Unwrap() error { return c.err }

// checkout materializes the requested reference in dir while holding the
// project lock. A non-empty status ends the run.
func (e *Execution) checkout(ctx context.Context, repo *git.Repository, dir string) (commit, tag string, status job.Status, err error) {
	lockID := "project-" + e.req.Project.ID
	waiting := false

	ran, err := e.s.locks.Lock(ctx, lockID, e.owner, func(ctx context.Context) error {
		_, _ = fmt.Fprintf(e.buf, "Updating repository %s\n", repo.URL)
		if err := repo.Update(ctx, e.buf); err != nil {
			return &checkoutError{err}
		}
		c, t, err := repo.Resolve(ctx, e.req.Reference)
		if err != nil {
			return &checkoutError{err}
		}
		if err := repo.Checkout(ctx, dir, c, e.buf); err != nil {
			return &checkoutError{err}
		}
		commit, tag = c, t
		return nil
	},
		lock.Timeout(e.s.lockTimeout),
		lock.OnWait(func(holder string) {
			if !waiting {
				waiting = true
				_, _ = fmt.Fprintf(e.buf, "Waiting for repository lock held by %s\n", holderName(holder))
			}
		}),
		lock.FailedToLock(func(holder string) {
			_, _ = fmt.Fprintf(e.buf, "Could not get exclusive lock on repository, held by %s\n", holderName(holder))
		}),
	)

	switch {
	case e.stopped.Load():
		return "", "", job.StatusCancelled, nil
	case errors.Is(err, context.DeadlineExceeded):
		_, _ = e.buf.WriteString("Job timed out.\n")
		return "", "", job.StatusFailed, nil
	case err != nil:
		var ce *checkoutError
		if errors.As(err, &ce) {
			if errors.Is(err, samson.ErrReferenceNotFound) {
				_, _ = fmt.Fprintf(e.buf, "Could not find commit for %q\n", e.req.Reference)
			} else {
				_, _ = fmt.Fprintf(e.buf, "Checkout failed: %s\n", err)
			}
			e.setError(err.Error())
			return "", "", job.StatusFailed, nil
		}
		return "", "", "", err
	case !ran:
		e.setError(samson.ErrLockTimeout.Error())
		return "", "", job.StatusFailed, nil
	}

	_, _ = fmt.Fprintf(e.buf, "Checked out %s (%s)\n", e.req.Reference, shortSHA(commit))
	if err := e.s.store.UpdateReferences(ctx, e.ID(), commit, tag); err != nil {
		e.s.logger.Warn("failed to record job references",
			slog.String("job_id", e.ID()),
			slog.String("error", err.Error()),
		)
	}
	e.mu.Lock()
	e.job.Commit, e.job.Tag = commit, tag
	e.mu.Unlock()
	return commit, tag, "", nil
}

func (e *Execution) removeWorkspace(repo *git.Repository, dir string) {
	ctx := context.WithoutCancel(e.ctx)
	var err error
	if repo != nil && repo.Exists() {
		err = repo.RemoveCheckout(ctx, dir)
	} else {
		err = os.RemoveAll(dir)
	}
	if err != nil {
		e.s.logger.Warn("failed to remove workspace",
			slog.String("job_id", e.ID()),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}

// environment returns the variables exposed to the commands.
func (e *Execution) environment(commit, tag string) []string {
	env := []string{
		"REFERENCE=" + e.req.Reference,
		"COMMIT=" + commit,
		"TAG=" + tag,
		"DEPLOYER=" + e.job.User,
		"JOB_ID=" + e.ID(),
		"PROJECT_NAME=" + e.req.Project.Name,
		"STAGE_NAME=" + e.req.Stage,
		"CACHE_DIR=" + e.s.cacheDir,
	}
	keys := make([]string, 0, len(e.req.Env))
	for k := range e.req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.req.Env[k])
	}
	return env
}

// persist mirrors message output into the job store, at most at the
// configured rate. finish always writes the final copy.
func (e *Execution) persist(evt output.Event) {
	if evt.Type != output.EventMessage {
		return
	}
	e.mirrorMu.Lock()
	e.mirror.WriteString(evt.Data)
	e.mirrorMu.Unlock()

	if !e.limiter.Allow() {
		return
	}
	e.saveOutput(e.ctx)
}

func (e *Execution) saveOutput(ctx context.Context) {
	e.mirrorMu.Lock()
	text := e.mirror.String()
	e.mirrorMu.Unlock()

	if err := e.s.store.UpdateOutput(context.WithoutCancel(ctx), e.ID(), text); err != nil {
		e.s.logger.Warn("failed to persist job output",
			slog.String("job_id", e.ID()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.mu.Lock()
	e.job.Output = text
	e.mu.Unlock()
}

func (e *Execution) updateStatus(ctx context.Context, status job.Status, errMsg string) {
	if err := e.s.store.UpdateStatus(context.WithoutCancel(ctx), e.ID(), status, errMsg); err != nil {
		e.s.logger.Error("failed to update job status",
			slog.String("job_id", e.ID()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
	e.mu.Lock()
	e.job.Status = status
	if errMsg != "" {
		e.job.Error = errMsg
	}
	e.mu.Unlock()
}

func (e *Execution) setError(msg string) {
	e.mu.Lock()
	e.job.Error = msg
	e.mu.Unlock()
}

// finish records the terminal status and closes the output. It runs once.
func (e *Execution) finish(ctx context.Context, status job.Status, errMsg string) {
	e.finishOnce.Do(func() {
		e.mu.Lock()
		if errMsg == "" && status == job.StatusFailed {
			errMsg = e.job.Error
		}
		var elapsed time.Duration
		if !e.startedAt.IsZero() {
			elapsed = time.Since(e.startedAt)
		}
		e.result = Result{Status: status, Error: errMsg, Duration: elapsed}
		e.mu.Unlock()

		e.saveOutput(ctx)
		e.updateStatus(ctx, status, errMsg)
		_ = e.buf.Emit(output.EventFinished, string(status))
		e.buf.Close()

		e.s.logger.Info("execution finished",
			slog.String("job_id", e.ID()),
			slog.String("status", string(status)),
			slog.Duration("elapsed", elapsed),
		)
		// Hooks run before the queue key is released, so they get a deadline.
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.s.hookTimeout)
		defer cancel()
		e.s.exts.EmitJobFinished(hookCtx, e.job, elapsed)
	})
}

// publish closes Done and notifies OnComplete listeners.
func (e *Execution) publish() {
	e.mu.Lock()
	select {
	case <-e.done:
		e.mu.Unlock()
		return
	default:
	}
	close(e.done)
	res := e.result
	listeners := e.listeners
	e.listeners = nil
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}

// holderName turns a lock owner token ("<job id>@<uuid>") into text for
// the job output.
func holderName(owner string) string {
	jobID, _, ok := strings.Cut(owner, "@")
	if !ok || jobID == "" {
		return "another job"
	}
	return "job " + jobID
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
