// Package ext defines the extension system for the execution engine.
//
// Extensions are notified of lifecycle events and can react to them:
// counting executions, archiving output, publishing events to streaming
// clients. Each lifecycle hook is a separate interface so extensions opt
// in only to the events they care about.
//
// # Implementing an Extension
//
//	type Announcer struct{}
//
//	func (a *Announcer) Name() string { return "announcer" }
//
//	func (a *Announcer) OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s %s after %s", j.ID, j.Status, elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobQueued]: an execution was handed to its queue
//   - [JobStarted]: an execution began running
//   - [JobFinished]: an execution reached succeeded, failed, errored or cancelled
//   - [Shutdown]: the process is shutting down after draining
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated.
package ext
