package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/zendesk/samson-sub001/api"
)

// CreateDeploy deploys reference to a stage of project.
func (c *Client) CreateDeploy(ctx context.Context, project, stage, reference string, bypassBuddyCheck bool) (*api.DeployResponse, error) {
	var out api.DeployResponse
	path := "/projects/" + url.PathEscape(project) + "/stages/" + url.PathEscape(stage) + "/deploys"
	err := c.do(ctx, http.MethodPost, path, api.CreateDeployRequest{
		Reference:        reference,
		BypassBuddyCheck: bypassBuddyCheck,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveDeploy approves a deploy waiting for a buddy as the client user.
func (c *Client) ApproveDeploy(ctx context.Context, deployID string) (*api.DeployResponse, error) {
	var out api.DeployResponse
	if err := c.do(ctx, http.MethodPost, "/deploys/"+url.PathEscape(deployID)+"/buddy_check", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDeploy retrieves a deploy.
func (c *Client) GetDeploy(ctx context.Context, deployID string) (*api.DeployResponse, error) {
	var out api.DeployResponse
	if err := c.do(ctx, http.MethodGet, "/deploys/"+url.PathEscape(deployID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDeploys returns deploys newest first, optionally limited to a stage.
func (c *Client) ListDeploys(ctx context.Context, stage string) ([]api.DeployResponse, error) {
	path := "/deploys"
	if stage != "" {
		path += "?stage=" + url.QueryEscape(stage)
	}
	var out []api.DeployResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StopDeploy cancels a deploy.
func (c *Client) StopDeploy(ctx context.Context, deployID string) error {
	return c.do(ctx, http.MethodDelete, "/deploys/"+url.PathEscape(deployID), nil, nil)
}
