// Package redis implements store.Store and lock.Backend on Redis. Jobs and
// deploys are stored as Hashes indexed by Sorted Sets scored by creation
// time; locks are plain keys taken with SET NX and a TTL so every host
// sharing the Redis instance serializes on them.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithKeyPrefix("samson:"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zendesk/samson-sub001/deploy"
	"github.com/zendesk/samson-sub001/job"
	"github.com/zendesk/samson-sub001/lock"
)

// Compile-time interface checks.
var (
	_ job.Store    = (*Store)(nil)
	_ deploy.Store = (*Store)(nil)
	_ lock.Backend = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix namespaces every key. Defaults to "samson:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
	prefix string
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), prefix: defaultKeyPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
