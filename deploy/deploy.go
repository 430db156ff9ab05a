package deploy

import (
	"context"
	"time"

	samson "github.com/zendesk/samson-sub001"
)

// Project is a deployable repository.
type Project struct {
	ID         string
	Name       string
	Repository string
	Stages     []*Stage
}

// Stage is a deploy target of a project.
type Stage struct {
	ID             string
	Name           string
	ProjectID      string
	Commands       []string
	Production     bool
	NoCodeDeployed bool
	Env            map[string]string
}

// QueueKey is the key deploys of this stage are serialized on.
func (s *Stage) QueueKey() string {
	return "stage-" + s.ID
}

// ProjectsFromConfig converts configured projects into domain values.
func ProjectsFromConfig(cfgs []samson.ProjectConfig) []*Project {
	projects := make([]*Project, 0, len(cfgs))
	for _, pc := range cfgs {
		p := &Project{ID: pc.ID, Name: pc.Name, Repository: pc.Repository}
		if p.Name == "" {
			p.Name = pc.ID
		}
		for _, sc := range pc.Stages {
			s := &Stage{
				ID:             sc.ID,
				Name:           sc.Name,
				ProjectID:      pc.ID,
				Commands:       sc.Commands,
				Production:     sc.Production,
				NoCodeDeployed: sc.NoCodeDeployed,
				Env:            sc.Env,
			}
			if s.Name == "" {
				s.Name = sc.ID
			}
			p.Stages = append(p.Stages, s)
		}
		projects = append(projects, p)
	}
	return projects
}

// Deploy binds a job to a stage and the reference being shipped.
type Deploy struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	ProjectID string `json:"project_id"`
	StageID   string `json:"stage_id"`
	Reference string `json:"reference"`
	Deployer  string `json:"deployer"`
	Buddy     string `json:"buddy,omitempty"`
	// Bypass records that the deployer skipped the buddy check.
	Bypass bool `json:"bypass,omitempty"`
	// StartedAt is set once the deploy is confirmed and handed to the
	// scheduler.
	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// WaitingForBuddy reports whether the deploy still needs approval.
func (d *Deploy) WaitingForBuddy() bool {
	return d.StartedAt == nil
}

// ListOpts filters deploy listings.
type ListOpts struct {
	StageID string
	Limit   int
}

// Store persists deploys. ListDeploys returns newest first.
type Store interface {
	CreateDeploy(ctx context.Context, d *Deploy) error
	GetDeploy(ctx context.Context, deployID string) (*Deploy, error)
	UpdateDeploy(ctx context.Context, d *Deploy) error
	// StartDeploy sets StartedAt and Buddy only if the deploy has not
	// started yet, and returns ErrNotWaitingForBuddy otherwise.
	StartDeploy(ctx context.Context, deployID, buddy string, startedAt time.Time) (*Deploy, error)
	ListDeploys(ctx context.Context, opts ListOpts) ([]*Deploy, error)
}
