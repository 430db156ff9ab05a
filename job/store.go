package job

import (
	"context"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Status filters by job status. Empty means all.
	Status Status
}

// Store defines the persistence contract for jobs. Jobs are returned newest
// first by ListJobs.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// UpdateStatus moves a job to status, recording errMsg when non-empty.
	// Moving to running stamps StartedAt; moving to a terminal status
	// stamps FinishedAt.
	UpdateStatus(ctx context.Context, jobID string, status Status, errMsg string) error

	// UpdateOutput replaces the persisted output mirror.
	UpdateOutput(ctx context.Context, jobID, output string) error

	// UpdateReferences records the resolved commit and tag.
	UpdateReferences(ctx context.Context, jobID, commit, tag string) error

	// ListJobs returns jobs matching opts.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)
}
