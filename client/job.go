package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/zendesk/samson-sub001/api"
	"github.com/zendesk/samson-sub001/job"
)

// GetJob retrieves a job with its live execution state.
func (c *Client) GetJob(ctx context.Context, jobID string) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status job.Status) ([]api.JobResponse, error) {
	path := "/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []api.JobResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StopJob stops a running or queued job.
func (c *Client) StopJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
}
