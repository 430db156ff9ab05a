package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/deploy"
	"github.com/zendesk/samson-sub001/id"
	"github.com/zendesk/samson-sub001/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(user string) *job.Job {
	return &job.Job{
		ID:        id.NewJobID(),
		ProjectID: "web",
		User:      user,
		Commands:  []string{"echo deploy"},
		Reference: "main",
		Status:    job.StatusPending,
	}
}

func TestJobCreateAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob("alice")

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, samson.ErrJobAlreadyExists) {
		t.Errorf("duplicate CreateJob error = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.User != "alice" || got.CreatedAt.IsZero() {
		t.Errorf("unexpected job %+v", got)
	}

	got.Commands[0] = "mutated"
	again, _ := s.GetJob(ctx, j.ID)
	if again.Commands[0] != "echo deploy" {
		t.Error("GetJob returned shared state")
	}

	if _, err := s.GetJob(ctx, "job_missing"); !errors.Is(err, samson.ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob("alice")
	_ = s.CreateJob(ctx, j)

	if err := s.UpdateStatus(ctx, j.ID, job.StatusRunning, ""); err != nil {
		t.Fatalf("UpdateStatus running: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.StartedAt == nil || got.FinishedAt != nil {
		t.Errorf("running job timestamps = %v / %v", got.StartedAt, got.FinishedAt)
	}

	if err := s.UpdateStatus(ctx, j.ID, job.StatusErrored, "boom"); err != nil {
		t.Fatalf("UpdateStatus errored: %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.Status != job.StatusErrored || got.Error != "boom" || got.FinishedAt == nil {
		t.Errorf("unexpected finished job %+v", got)
	}

	if err := s.UpdateStatus(ctx, "job_missing", job.StatusFailed, ""); !errors.Is(err, samson.ErrJobNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v", err)
	}
}

func TestJobOutputAndReferences(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob("alice")
	_ = s.CreateJob(ctx, j)

	_ = s.UpdateOutput(ctx, j.ID, "hello\n")
	_ = s.UpdateReferences(ctx, j.ID, "abc123", "v1.0")

	got, _ := s.GetJob(ctx, j.ID)
	if got.Output != "hello\n" || got.Commit != "abc123" || got.Tag != "v1.0" {
		t.Errorf("unexpected job %+v", got)
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	var ids []string
	for range 3 {
		j := newJob("alice")
		_ = s.CreateJob(ctx, j)
		ids = append(ids, j.ID)
	}
	_ = s.UpdateStatus(ctx, ids[0], job.StatusSucceeded, "")

	all, _ := s.ListJobs(ctx, job.ListOpts{})
	if len(all) != 3 || all[0].ID != ids[2] {
		t.Errorf("ListJobs not newest first: %v", all)
	}

	limited, _ := s.ListJobs(ctx, job.ListOpts{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("Limit 2 returned %d", len(limited))
	}

	succeeded, _ := s.ListJobs(ctx, job.ListOpts{Status: job.StatusSucceeded})
	if len(succeeded) != 1 || succeeded[0].ID != ids[0] {
		t.Errorf("status filter returned %v", succeeded)
	}
}

// ──────────────────────────────────────────────────
// Deploy Store tests
// ──────────────────────────────────────────────────

func TestDeployLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	d := &deploy.Deploy{ID: id.NewDeployID(), JobID: id.NewJobID(), StageID: "production", Deployer: "alice"}
	if err := s.CreateDeploy(ctx, d); err != nil {
		t.Fatalf("CreateDeploy: %v", err)
	}
	if err := s.CreateDeploy(ctx, d); !errors.Is(err, samson.ErrDeployAlreadyExists) {
		t.Errorf("duplicate CreateDeploy error = %v", err)
	}

	now := time.Now()
	d.Buddy = "bob"
	d.StartedAt = &now
	if err := s.UpdateDeploy(ctx, d); err != nil {
		t.Fatalf("UpdateDeploy: %v", err)
	}
	got, err := s.GetDeploy(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDeploy: %v", err)
	}
	if got.Buddy != "bob" || got.WaitingForBuddy() {
		t.Errorf("unexpected deploy %+v", got)
	}

	other := &deploy.Deploy{ID: id.NewDeployID(), StageID: "staging"}
	_ = s.CreateDeploy(ctx, other)

	list, _ := s.ListDeploys(ctx, deploy.ListOpts{StageID: "production"})
	if len(list) != 1 || list[0].ID != d.ID {
		t.Errorf("stage filter returned %v", list)
	}
	all, _ := s.ListDeploys(ctx, deploy.ListOpts{})
	if len(all) != 2 || all[0].ID != other.ID {
		t.Errorf("ListDeploys not newest first: %v", all)
	}

	if err := s.UpdateDeploy(ctx, &deploy.Deploy{ID: "dep_missing"}); !errors.Is(err, samson.ErrDeployNotFound) {
		t.Errorf("UpdateDeploy(missing) error = %v", err)
	}
}

func TestStartDeploy_OnlyOnce(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	d := &deploy.Deploy{ID: id.NewDeployID(), JobID: id.NewJobID(), StageID: "production", Deployer: "alice"}
	if err := s.CreateDeploy(ctx, d); err != nil {
		t.Fatalf("CreateDeploy: %v", err)
	}

	buddies := []string{"bob", "carol", "dave", "erin"}
	var (
		wg     sync.WaitGroup
		wins   atomic.Int32
		winner atomic.Value
	)
	for _, b := range buddies {
		wg.Add(1)
		go func(buddy string) {
			defer wg.Done()
			got, err := s.StartDeploy(ctx, d.ID, buddy, time.Now())
			switch {
			case err == nil:
				wins.Add(1)
				winner.Store(got.Buddy)
			case !errors.Is(err, samson.ErrNotWaitingForBuddy):
				t.Errorf("StartDeploy(%s) error = %v", buddy, err)
			}
		}(b)
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d callers started the deploy, want 1", got)
	}
	stored, err := s.GetDeploy(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDeploy: %v", err)
	}
	if stored.WaitingForBuddy() || stored.Buddy != winner.Load() {
		t.Errorf("stored deploy %+v, winner %v", stored, winner.Load())
	}

	if _, err := s.StartDeploy(ctx, "dep_missing", "bob", time.Now()); !errors.Is(err, samson.ErrDeployNotFound) {
		t.Errorf("StartDeploy(missing) error = %v", err)
	}
}
