package audithook

import "github.com/zendesk/samson-sub001/job"

// Audit event actions.
const (
	ActionJobQueued    = "job.queued"
	ActionJobStarted   = "job.started"
	ActionJobSucceeded = "job.succeeded"
	ActionJobFailed    = "job.failed"
	ActionJobErrored   = "job.errored"
	ActionJobCancelled = "job.cancelled"
	ActionShutdown     = "engine.shutdown"
)

// Audit event categories.
const (
	CategoryJob    = "samson.job"
	CategoryEngine = "samson.engine"
)

// Resource types.
const (
	ResourceJob    = "job"
	ResourceEngine = "engine"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobQueued,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobFailed,
		ActionJobErrored,
		ActionJobCancelled,
		ActionShutdown,
	}
}

// finishedAction maps a terminal status to its action, severity and outcome.
func finishedAction(s job.Status) (action, severity, outcome string) {
	switch s {
	case job.StatusSucceeded:
		return ActionJobSucceeded, SeverityInfo, OutcomeSuccess
	case job.StatusCancelled:
		return ActionJobCancelled, SeverityWarning, OutcomeFailure
	case job.StatusErrored:
		return ActionJobErrored, SeverityCritical, OutcomeFailure
	default:
		return ActionJobFailed, SeverityCritical, OutcomeFailure
	}
}
