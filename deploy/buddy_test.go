package deploy_test

import (
	"errors"
	"testing"
	"time"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/deploy"
)

func TestBuddyCheck_RequiresApproval(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		stage   deploy.Stage
		want    bool
	}{
		{"disabled", false, deploy.Stage{Production: true}, false},
		{"production", true, deploy.Stage{Production: true}, true},
		{"staging", true, deploy.Stage{}, false},
		{"no code deployed", true, deploy.Stage{Production: true, NoCodeDeployed: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := deploy.BuddyCheck{Enabled: tt.enabled}
			if got := b.RequiresApproval(&tt.stage); got != tt.want {
				t.Errorf("RequiresApproval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuddyCheck_Approve(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	b := deploy.BuddyCheck{Enabled: true, TimeLimit: 10 * time.Minute}

	tests := []struct {
		name    string
		deploy  deploy.Deploy
		buddy   string
		at      time.Time
		wantErr error
	}{
		{"ok", deploy.Deploy{Deployer: "alice", CreatedAt: created}, "bob", created.Add(5 * time.Minute), nil},
		{"self", deploy.Deploy{Deployer: "alice", CreatedAt: created}, "alice", created, samson.ErrSelfApproval},
		{"expired", deploy.Deploy{Deployer: "alice", CreatedAt: created}, "bob", created.Add(11 * time.Minute), samson.ErrBuddyExpired},
		{"started", deploy.Deploy{Deployer: "alice", CreatedAt: created, StartedAt: &started}, "bob", created, samson.ErrNotWaitingForBuddy},
		{"anonymous", deploy.Deploy{Deployer: "alice", CreatedAt: created}, "", created, samson.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.deploy
			err := b.Approve(&d, tt.buddy, tt.at)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Approve: %v", err)
				}
				if d.Buddy != tt.buddy {
					t.Errorf("Buddy = %q, want %q", d.Buddy, tt.buddy)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Approve = %v, want %v", err, tt.wantErr)
			}
			if d.Buddy != "" {
				t.Errorf("Buddy recorded on rejection: %q", d.Buddy)
			}
		})
	}
}

func TestBuddyCheckFromConfig_DefaultLimit(t *testing.T) {
	b := deploy.BuddyCheckFromConfig(samson.BuddyCheckConfig{Enabled: true})
	if b.TimeLimit != deploy.DefaultBuddyTimeLimit {
		t.Errorf("TimeLimit = %v, want %v", b.TimeLimit, deploy.DefaultBuddyTimeLimit)
	}
}

func TestProjectsFromConfig(t *testing.T) {
	projects := deploy.ProjectsFromConfig([]samson.ProjectConfig{{
		ID:         "web",
		Repository: "git@example.com:web.git",
		Stages: []samson.StageConfig{
			{ID: "web-production", Name: "Production", Production: true, Commands: []string{"make deploy"}},
			{ID: "web-staging"},
		},
	}})
	if len(projects) != 1 || len(projects[0].Stages) != 2 {
		t.Fatalf("projects = %+v", projects)
	}
	p := projects[0]
	if p.Name != "web" {
		t.Errorf("project name defaults to id, got %q", p.Name)
	}
	if s := p.Stages[1]; s.Name != "web-staging" || s.ProjectID != "web" {
		t.Errorf("stage = %+v", s)
	}
	if got := p.Stages[0].QueueKey(); got != "stage-web-production" {
		t.Errorf("QueueKey = %q", got)
	}
}
