package job

import (
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job has not started, either because it is
	// queued behind another job or waiting for approval.
	StatusPending Status = "pending"
	// StatusRunning means the job's commands are executing.
	StatusRunning Status = "running"
	// StatusSucceeded means every command exited zero.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means a command, the checkout or the lock wait failed.
	StatusFailed Status = "failed"
	// StatusErrored means the engine hit an unexpected error.
	StatusErrored Status = "errored"
	// StatusCancelled means a user or a restart stopped the job.
	StatusCancelled Status = "cancelled"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// Job is the persisted record of one run of a stage's commands.
type Job struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	User       string     `json:"user"`
	Commands   []string   `json:"commands"`
	Reference  string     `json:"reference"`
	Commit     string     `json:"commit,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	Status     Status     `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the job ran, or zero if it never started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(*j.StartedAt)
}
