package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// TryLock takes the lock with SET NX so only one host can hold it. The key
// expires after ttl, freeing locks of crashed holders.
func (s *Store) TryLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(id), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("samson/redis: lock setnx: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock regardless of its owner.
func (s *Store) Unlock(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.lockKey(id)).Err(); err != nil {
		return fmt.Errorf("samson/redis: unlock: %w", err)
	}
	return nil
}

// Owner returns the current holder, or "" when the lock is free.
func (s *Store) Owner(ctx context.Context, id string) (string, error) {
	owner, err := s.client.Get(ctx, s.lockKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("samson/redis: lock owner: %w", err)
	}
	return owner, nil
}
