package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/deploy"
	"github.com/zendesk/samson-sub001/job"
)

// Ensure Store implements each subsystem store at compile time.
var (
	_ job.Store    = (*Store)(nil)
	_ deploy.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for single-process use and tests.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*record[job.Job]
	deploys map[string]*record[deploy.Deploy]
	seq     int64
}

// record keeps insertion order so listings are stable when timestamps tie.
type record[T any] struct {
	seq int64
	v   T
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*record[job.Job]),
		deploys: make(map[string]*record[deploy.Deploy]),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Ping / Close
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return samson.ErrJobAlreadyExists
	}
	cp := copyJob(j)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = job.StatusPending
	}
	m.seq++
	m.jobs[j.ID] = &record[job.Job]{seq: m.seq, v: cp}
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.jobs[jobID]
	if !ok {
		return nil, samson.ErrJobNotFound
	}
	cp := copyJob(&r.v)
	return &cp, nil
}

// UpdateStatus moves a job to status and stamps the matching timestamp.
func (m *Store) UpdateStatus(_ context.Context, jobID string, status job.Status, errMsg string) error {
	return m.updateJob(jobID, func(j *job.Job, now time.Time) {
		j.Status = status
		if errMsg != "" {
			j.Error = errMsg
		}
		switch {
		case status == job.StatusRunning && j.StartedAt == nil:
			j.StartedAt = &now
		case status.Finished():
			j.FinishedAt = &now
		}
	})
}

// UpdateOutput replaces the persisted output mirror.
func (m *Store) UpdateOutput(_ context.Context, jobID, output string) error {
	return m.updateJob(jobID, func(j *job.Job, _ time.Time) {
		j.Output = output
	})
}

// UpdateReferences records the resolved commit and tag.
func (m *Store) UpdateReferences(_ context.Context, jobID, commit, tag string) error {
	return m.updateJob(jobID, func(j *job.Job, _ time.Time) {
		j.Commit = commit
		j.Tag = tag
	})
}

func (m *Store) updateJob(jobID string, fn func(*job.Job, time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.jobs[jobID]
	if !ok {
		return samson.ErrJobNotFound
	}
	now := time.Now().UTC()
	fn(&r.v, now)
	r.v.UpdatedAt = now
	return nil
}

// ListJobs returns jobs newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*record[job.Job], 0, len(m.jobs))
	for _, r := range m.jobs {
		if opts.Status != "" && r.v.Status != opts.Status {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, k int) bool { return recs[i].seq > recs[k].seq })
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}

	result := make([]*job.Job, len(recs))
	for i, r := range recs {
		cp := copyJob(&r.v)
		result[i] = &cp
	}
	return result, nil
}

func copyJob(j *job.Job) job.Job {
	cp := *j
	cp.Commands = append([]string(nil), j.Commands...)
	return cp
}

// ──────────────────────────────────────────────────
// Deploy Store
// ──────────────────────────────────────────────────

// CreateDeploy persists a new deploy.
func (m *Store) CreateDeploy(_ context.Context, d *deploy.Deploy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.deploys[d.ID]; exists {
		return samson.ErrDeployAlreadyExists
	}
	cp := *d
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.seq++
	m.deploys[d.ID] = &record[deploy.Deploy]{seq: m.seq, v: cp}
	return nil
}

// GetDeploy retrieves a deploy by ID.
func (m *Store) GetDeploy(_ context.Context, deployID string) (*deploy.Deploy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.deploys[deployID]
	if !ok {
		return nil, samson.ErrDeployNotFound
	}
	cp := r.v
	return &cp, nil
}

// UpdateDeploy persists changes to an existing deploy.
func (m *Store) UpdateDeploy(_ context.Context, d *deploy.Deploy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.deploys[d.ID]
	if !ok {
		return samson.ErrDeployNotFound
	}
	cp := *d
	cp.UpdatedAt = time.Now().UTC()
	r.v = cp
	return nil
}

// StartDeploy marks a waiting deploy started.
func (m *Store) StartDeploy(_ context.Context, deployID, buddy string, startedAt time.Time) (*deploy.Deploy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.deploys[deployID]
	if !ok {
		return nil, samson.ErrDeployNotFound
	}
	if r.v.StartedAt != nil {
		return nil, samson.ErrNotWaitingForBuddy
	}
	r.v.StartedAt = &startedAt
	r.v.Buddy = buddy
	r.v.UpdatedAt = time.Now().UTC()
	cp := r.v
	return &cp, nil
}

// ListDeploys returns deploys newest first.
func (m *Store) ListDeploys(_ context.Context, opts deploy.ListOpts) ([]*deploy.Deploy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*record[deploy.Deploy], 0, len(m.deploys))
	for _, r := range m.deploys {
		if opts.StageID != "" && r.v.StageID != opts.StageID {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, k int) bool { return recs[i].seq > recs[k].seq })
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}

	result := make([]*deploy.Deploy, len(recs))
	for i, r := range recs {
		cp := r.v
		result[i] = &cp
	}
	return result, nil
}
