package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/deploy"
)

// CreateDeploy stores the deploy as a Hash and indexes it by creation time.
func (s *Store) CreateDeploy(ctx context.Context, d *deploy.Deploy) error {
	key := s.deployKey(d.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("samson/redis: create deploy check exists: %w", err)
	}
	if exists > 0 {
		return samson.ErrDeployAlreadyExists
	}

	cp := *d
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, deployToMap(&cp))
	pipe.ZAdd(ctx, s.deployIndexKey(), goredis.Z{Score: float64(cp.CreatedAt.UnixNano()), Member: cp.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("samson/redis: create deploy: %w", err)
	}
	return nil
}

// GetDeploy retrieves a deploy by ID.
func (s *Store) GetDeploy(ctx context.Context, deployID string) (*deploy.Deploy, error) {
	vals, err := s.client.HGetAll(ctx, s.deployKey(deployID)).Result()
	if err != nil {
		return nil, fmt.Errorf("samson/redis: get deploy: %w", err)
	}
	if len(vals) == 0 {
		return nil, samson.ErrDeployNotFound
	}
	return mapToDeploy(vals), nil
}

// UpdateDeploy persists changes to an existing deploy.
func (s *Store) UpdateDeploy(ctx context.Context, d *deploy.Deploy) error {
	key := s.deployKey(d.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("samson/redis: update deploy exists: %w", err)
	}
	if exists == 0 {
		return samson.ErrDeployNotFound
	}

	cp := *d
	cp.UpdatedAt = time.Now().UTC()
	pipe := s.client.TxPipeline()
	if cp.StartedAt == nil {
		pipe.HDel(ctx, key, "started_at")
	}
	pipe.HSet(ctx, key, deployToMap(&cp))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("samson/redis: update deploy: %w", err)
	}
	return nil
}

// StartDeploy claims the started_at field with HSETNX so only one caller
// can start a waiting deploy.
func (s *Store) StartDeploy(ctx context.Context, deployID, buddy string, startedAt time.Time) (*deploy.Deploy, error) {
	key := s.deployKey(deployID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("samson/redis: start deploy exists: %w", err)
	}
	if exists == 0 {
		return nil, samson.ErrDeployNotFound
	}

	claimed, err := s.client.HSetNX(ctx, key, "started_at", startedAt.Format(time.RFC3339Nano)).Result()
	if err != nil {
		return nil, fmt.Errorf("samson/redis: start deploy: %w", err)
	}
	if !claimed {
		return nil, samson.ErrNotWaitingForBuddy
	}
	if err := s.client.HSet(ctx, key,
		"buddy", buddy,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return nil, fmt.Errorf("samson/redis: start deploy: %w", err)
	}
	return s.GetDeploy(ctx, deployID)
}

// ListDeploys returns deploys newest first.
func (s *Store) ListDeploys(ctx context.Context, opts deploy.ListOpts) ([]*deploy.Deploy, error) {
	ids, err := s.client.ZRevRange(ctx, s.deployIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("samson/redis: list deploys zrevrange: %w", err)
	}

	deploys := make([]*deploy.Deploy, 0, len(ids))
	for _, dID := range ids {
		d, getErr := s.GetDeploy(ctx, dID)
		if getErr != nil {
			continue // skip missing
		}
		if opts.StageID != "" && d.StageID != opts.StageID {
			continue
		}
		deploys = append(deploys, d)
		if opts.Limit > 0 && len(deploys) == opts.Limit {
			break
		}
	}
	return deploys, nil
}

func deployToMap(d *deploy.Deploy) map[string]any {
	m := map[string]any{
		"id":         d.ID,
		"job_id":     d.JobID,
		"project_id": d.ProjectID,
		"stage_id":   d.StageID,
		"reference":  d.Reference,
		"deployer":   d.Deployer,
		"buddy":      d.Buddy,
		"bypass":     strconv.FormatBool(d.Bypass),
		"created_at": d.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": d.UpdatedAt.Format(time.RFC3339Nano),
	}
	if d.StartedAt != nil {
		m["started_at"] = d.StartedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDeploy(m map[string]string) *deploy.Deploy {
	bypass, _ := strconv.ParseBool(m["bypass"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return &deploy.Deploy{
		ID:        m["id"],
		JobID:     m["job_id"],
		ProjectID: m["project_id"],
		StageID:   m["stage_id"],
		Reference: m["reference"],
		Deployer:  m["deployer"],
		Buddy:     m["buddy"],
		Bypass:    bypass,
		StartedAt: parseTimePtr(m["started_at"]),
		CreatedAt: parseTime(m["created_at"]),
		UpdatedAt: parseTime(m["updated_at"]),
	}
}
