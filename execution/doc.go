// Package execution runs jobs: it checks out the requested reference of a
// project's repository, runs the configured commands and records the
// outcome.
//
// A [Scheduler] owns every in-flight [Execution]. StartJob hands a new
// execution to the per-key queue and returns immediately; the run happens on
// its own goroutine. Each run:
//
//  1. takes the project lock ("project-<id>") through lock.MultiLock
//  2. updates the mirror clone and resolves the reference to a commit
//  3. creates a detached worktree in a temporary directory
//  4. releases the lock
//  5. runs the commands in one shell, streaming output to the Buffer and
//     mirroring it to the job store at a bounded rate
//  6. records succeeded, failed, errored or cancelled
//
// Git failures and lock timeouts are reported as failed with a readable
// message. Anything unexpected, including panics, is errored.
//
// Stop is idempotent. A queued execution is removed from its queue and
// marked cancelled without running; a running one has its process group
// interrupted and then killed after the grace period.
package execution
