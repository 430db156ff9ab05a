package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/job"
)

// CreateJob stores the job as a Hash and indexes it by creation time.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	key := s.jobKey(j.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("samson/redis: create job check exists: %w", err)
	}
	if exists > 0 {
		return samson.ErrJobAlreadyExists
	}

	cp := *j
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Status == "" {
		cp.Status = job.StatusPending
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(&cp))
	pipe.ZAdd(ctx, s.jobIndexKey(), goredis.Z{Score: float64(cp.CreatedAt.UnixNano()), Member: cp.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("samson/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return s.getJobByKey(ctx, s.jobKey(jobID))
}

// UpdateStatus moves a job to status and stamps the matching timestamp.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status job.Status, errMsg string) error {
	key := s.jobKey(jobID)
	if err := s.requireJob(ctx, key); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "status", string(status), "updated_at", now)
	if errMsg != "" {
		pipe.HSet(ctx, key, "error", errMsg)
	}
	switch {
	case status == job.StatusRunning:
		pipe.HSetNX(ctx, key, "started_at", now)
	case status.Finished():
		pipe.HSet(ctx, key, "finished_at", now)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("samson/redis: update job status: %w", err)
	}
	return nil
}

// UpdateOutput replaces the persisted output mirror.
func (s *Store) UpdateOutput(ctx context.Context, jobID, output string) error {
	return s.setJobFields(ctx, jobID, "output", output)
}

// UpdateReferences records the resolved commit and tag.
func (s *Store) UpdateReferences(ctx context.Context, jobID, commit, tag string) error {
	return s.setJobFields(ctx, jobID, "commit", commit, "tag", tag)
}

func (s *Store) setJobFields(ctx context.Context, jobID string, values ...any) error {
	key := s.jobKey(jobID)
	if err := s.requireJob(ctx, key); err != nil {
		return err
	}
	values = append(values, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	if err := s.client.HSet(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("samson/redis: update job: %w", err)
	}
	return nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.ZRevRange(ctx, s.jobIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("samson/redis: list jobs zrevrange: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, j)
		if opts.Limit > 0 && len(jobs) == opts.Limit {
			break
		}
	}
	return jobs, nil
}

func (s *Store) requireJob(ctx context.Context, key string) error {
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("samson/redis: job exists: %w", err)
	}
	if exists == 0 {
		return samson.ErrJobNotFound
	}
	return nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("samson/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, samson.ErrJobNotFound
	}
	return mapToJob(vals), nil
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":         j.ID,
		"project_id": j.ProjectID,
		"user":       j.User,
		"commands":   marshalJSON(j.Commands),
		"reference":  j.Reference,
		"commit":     j.Commit,
		"tag":        j.Tag,
		"status":     string(j.Status),
		"output":     j.Output,
		"error":      j.Error,
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) *job.Job {
	j := &job.Job{
		ID:         m["id"],
		ProjectID:  m["project_id"],
		User:       m["user"],
		Commands:   unmarshalStrings(m["commands"]),
		Reference:  m["reference"],
		Commit:     m["commit"],
		Tag:        m["tag"],
		Status:     job.Status(m["status"]),
		Output:     m["output"],
		Error:      m["error"],
		CreatedAt:  parseTime(m["created_at"]),
		UpdatedAt:  parseTime(m["updated_at"]),
		StartedAt:  parseTimePtr(m["started_at"]),
		FinishedAt: parseTimePtr(m["finished_at"]),
	}
	return j
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v any) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
