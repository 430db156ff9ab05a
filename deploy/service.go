package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/execution"
	"github.com/zendesk/samson-sub001/id"
	"github.com/zendesk/samson-sub001/job"
)

// Request asks for a stage to be deployed.
type Request struct {
	// ProjectID, when set, must own the stage.
	ProjectID string
	StageID   string
	Reference string
	User      string
	// Bypass skips the buddy check. The deployer is recorded as the buddy.
	Bypass bool
}

// Service creates deploys and drives them through the buddy check into the
// scheduler.
type Service struct {
	jobs    job.Store
	deploys Store
	sched   *execution.Scheduler
	buddy   BuddyCheck
	logger  *slog.Logger
	now     func() time.Time

	projects map[string]*Project
	stages   map[string]*Stage
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBuddyCheck sets the approval policy. Disabled by default.
func WithBuddyCheck(b BuddyCheck) ServiceOption {
	return func(s *Service) { s.buddy = b }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service for projects.
func NewService(jobs job.Store, deploys Store, sched *execution.Scheduler, projects []*Project, opts ...ServiceOption) *Service {
	s := &Service{
		jobs:     jobs,
		deploys:  deploys,
		sched:    sched,
		buddy:    BuddyCheck{TimeLimit: DefaultBuddyTimeLimit},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		projects: make(map[string]*Project, len(projects)),
		stages:   make(map[string]*Stage),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range projects {
		s.projects[p.ID] = p
		for _, st := range p.Stages {
			s.stages[st.ID] = st
		}
	}
	return s
}

// Projects returns the configured projects ordered by id.
func (s *Service) Projects() []*Project {
	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Stage returns a configured stage.
func (s *Service) Stage(stageID string) (*Stage, error) {
	st, ok := s.stages[stageID]
	if !ok {
		return nil, fmt.Errorf("stage %s: %w", stageID, samson.ErrStageNotFound)
	}
	return st, nil
}

// Deploy creates a deploy of req.Reference to the stage. It starts right
// away unless the stage needs a buddy and req.Bypass is unset; then the
// deploy waits for Approve. The returned execution is nil while waiting.
func (s *Service) Deploy(ctx context.Context, req Request) (*Deploy, *execution.Execution, error) {
	stage, err := s.Stage(req.StageID)
	if err != nil {
		return nil, nil, err
	}
	if req.ProjectID != "" && stage.ProjectID != req.ProjectID {
		return nil, nil, fmt.Errorf("stage %s of project %s: %w", req.StageID, req.ProjectID, samson.ErrStageNotFound)
	}
	if req.Reference == "" || req.User == "" {
		return nil, nil, fmt.Errorf("deploy needs a reference and a user: %w", samson.ErrInvalidRequest)
	}
	if !s.sched.Enabled() {
		return nil, nil, samson.ErrSchedulerDisabled
	}

	now := s.now()
	j := &job.Job{
		ID:        id.NewJobID(),
		ProjectID: stage.ProjectID,
		User:      req.User,
		Commands:  append([]string(nil), stage.Commands...),
		Reference: req.Reference,
		Status:    job.StatusPending,
		CreatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, j); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}

	d := &Deploy{
		ID:        id.NewDeployID(),
		JobID:     j.ID,
		ProjectID: stage.ProjectID,
		StageID:   stage.ID,
		Reference: req.Reference,
		Deployer:  req.User,
		CreatedAt: now,
	}
	if req.Bypass {
		d.Buddy = req.User
		d.Bypass = true
	}
	if err := s.deploys.CreateDeploy(ctx, d); err != nil {
		return nil, nil, fmt.Errorf("create deploy: %w", err)
	}

	if s.buddy.RequiresApproval(stage) && !req.Bypass {
		s.logger.Info("deploy waiting for buddy",
			slog.String("deploy_id", d.ID),
			slog.String("stage", stage.ID),
			slog.String("deployer", d.Deployer),
		)
		return d, nil, nil
	}
	if req.Bypass && s.buddy.RequiresApproval(stage) {
		s.logger.Warn("buddy check bypassed",
			slog.String("deploy_id", d.ID),
			slog.String("stage", stage.ID),
			slog.String("deployer", d.Deployer),
		)
	}

	e, err := s.confirm(ctx, d, stage, j)
	if err != nil {
		return d, nil, err
	}
	return d, e, nil
}

// Approve records buddy as the approver of a waiting deploy and starts it.
func (s *Service) Approve(ctx context.Context, deployID, buddy string) (*Deploy, *execution.Execution, error) {
	d, err := s.deploys.GetDeploy(ctx, deployID)
	if err != nil {
		return nil, nil, err
	}
	stage, err := s.Stage(d.StageID)
	if err != nil {
		return nil, nil, err
	}
	j, err := s.jobs.GetJob(ctx, d.JobID)
	if err != nil {
		return nil, nil, err
	}
	if j.Status != job.StatusPending {
		return nil, nil, fmt.Errorf("deploy %s: %w", d.ID, samson.ErrNotWaitingForBuddy)
	}
	if !s.sched.Enabled() {
		return nil, nil, samson.ErrSchedulerDisabled
	}
	if err := s.buddy.Approve(d, buddy, s.now()); err != nil {
		return nil, nil, err
	}

	s.logger.Info("deploy approved",
		slog.String("deploy_id", d.ID),
		slog.String("buddy", buddy),
	)
	e, err := s.confirm(ctx, d, stage, j)
	if err != nil {
		return d, nil, err
	}
	return d, e, nil
}

// confirm marks d started and hands its job to the scheduler.
func (s *Service) confirm(ctx context.Context, d *Deploy, stage *Stage, j *job.Job) (*execution.Execution, error) {
	started, err := s.deploys.StartDeploy(ctx, d.ID, d.Buddy, s.now())
	if err != nil {
		return nil, fmt.Errorf("start deploy %s: %w", d.ID, err)
	}
	*d = *started

	project := s.projects[stage.ProjectID]
	env := maps.Clone(stage.Env)
	if env == nil {
		env = make(map[string]string, 2)
	}
	env["DEPLOY_ID"] = d.ID
	env["BUDDY"] = d.Buddy

	req := execution.StartRequest{
		Reference: d.Reference,
		Job:       j,
		QueueKey:  stage.QueueKey(),
		Stage:     stage.Name,
		Env:       env,
	}
	if project != nil {
		req.Project = execution.Project{ID: project.ID, Name: project.Name, Repository: project.Repository}
	}

	e, err := s.sched.StartJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start deploy %s: %w", d.ID, err)
	}
	s.logger.Info("deploy started",
		slog.String("deploy_id", d.ID),
		slog.String("job_id", j.ID),
		slog.String("stage", stage.ID),
		slog.String("reference", d.Reference),
	)
	return e, nil
}

// Stop cancels a deploy. A running or queued deploy is stopped through the
// scheduler; one still waiting for a buddy is cancelled in the store.
func (s *Service) Stop(ctx context.Context, deployID, user string) error {
	d, err := s.deploys.GetDeploy(ctx, deployID)
	if err != nil {
		return err
	}
	s.logger.Info("deploy stop requested",
		slog.String("deploy_id", d.ID),
		slog.String("user", user),
	)
	if e, ok := s.sched.FindByJob(d.JobID); ok {
		return e.Stop(ctx)
	}

	j, err := s.jobs.GetJob(ctx, d.JobID)
	if err != nil {
		return err
	}
	if j.Status.Finished() {
		return fmt.Errorf("deploy %s: %w", d.ID, samson.ErrAlreadyFinished)
	}
	return s.jobs.UpdateStatus(ctx, j.ID, job.StatusCancelled, "")
}

// Get returns a deploy.
func (s *Service) Get(ctx context.Context, deployID string) (*Deploy, error) {
	return s.deploys.GetDeploy(ctx, deployID)
}

// List returns deploys newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Deploy, error) {
	return s.deploys.ListDeploys(ctx, opts)
}
