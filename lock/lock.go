// Package lock provides mutual exclusion keyed by resource id, used to
// serialize access to shared resources such as a project's git cache.
// Backends hold the lock state; MultiLock adds waiting with backoff.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zendesk/samson-sub001/backoff"
)

// Backend stores lock ownership. Implementations must make TryLock atomic
// across every process sharing the backend.
type Backend interface {
	// TryLock takes the lock for owner if it is free or expired. It never
	// blocks on contention.
	TryLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)

	// Unlock releases the lock regardless of who holds it.
	Unlock(ctx context.Context, id string) error

	// Owner returns the current holder, or "" when the lock is free.
	Owner(ctx context.Context, id string) (string, error)
}

// NewOwner returns a unique owner token.
func NewOwner() string {
	return uuid.NewString()
}

// MultiLock waits for locks held in a Backend.
type MultiLock struct {
	backend  Backend
	strategy backoff.Strategy
	timeout  time.Duration
	ttl      time.Duration
	logger   *slog.Logger
}

// Option configures a MultiLock.
type Option func(*MultiLock)

// WithStrategy sets the polling strategy. Defaults to backoff.Poll.
func WithStrategy(s backoff.Strategy) Option {
	return func(m *MultiLock) { m.strategy = s }
}

// WithDefaultTimeout sets how long Lock waits when no per-call timeout is
// given.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *MultiLock) { m.timeout = d }
}

// WithTTL sets the expiry of held locks.
func WithTTL(d time.Duration) Option {
	return func(m *MultiLock) { m.ttl = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *MultiLock) { m.logger = l }
}

// New creates a MultiLock over backend.
func New(backend Backend, opts ...Option) *MultiLock {
	m := &MultiLock{
		backend:  backend,
		strategy: backoff.Poll(),
		timeout:  10 * time.Minute,
		ttl:      30 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the underlying backend.
func (m *MultiLock) Backend() Backend { return m.backend }

type lockConfig struct {
	timeout      time.Duration
	onWait       func(owner string)
	failedToLock func(owner string)
}

// LockOption configures a single Lock call.
type LockOption func(*lockConfig)

// Timeout overrides the wait timeout for one call.
func Timeout(d time.Duration) LockOption {
	return func(c *lockConfig) { c.timeout = d }
}

// OnWait is called with the current holder after every failed attempt.
func OnWait(fn func(owner string)) LockOption {
	return func(c *lockConfig) { c.onWait = fn }
}

// FailedToLock is called with the current holder when the wait times out.
func FailedToLock(fn func(owner string)) LockOption {
	return func(c *lockConfig) { c.failedToLock = fn }
}

// Lock waits for the lock on id, runs fn while holding it and releases it.
// It returns true when fn ran, together with fn's error. When the timeout
// elapses first it calls the FailedToLock callback and returns false with a
// nil error. Cancelling ctx aborts the wait with ctx's error.
func (m *MultiLock) Lock(ctx context.Context, id, owner string, fn func(context.Context) error, opts ...LockOption) (bool, error) {
	cfg := lockConfig{timeout: m.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.Now().Add(cfg.timeout)
	for attempt := 1; ; attempt++ {
		ok, err := m.backend.TryLock(ctx, id, owner, m.ttl)
		if err != nil {
			return false, fmt.Errorf("lock %s: %w", id, err)
		}
		if ok {
			break
		}

		holder, _ := m.backend.Owner(ctx, id)
		if !time.Now().Before(deadline) {
			m.logger.Warn("lock wait timed out",
				slog.String("lock", id),
				slog.String("owner", owner),
				slog.String("holder", holder),
			)
			if cfg.failedToLock != nil {
				cfg.failedToLock(holder)
			}
			return false, nil
		}
		if cfg.onWait != nil {
			cfg.onWait(holder)
		}
		if err := backoff.Sleep(ctx, m.strategy, attempt); err != nil {
			return false, err
		}
	}

	defer func() {
		// Release with a fresh context so a cancelled caller still frees it.
		if err := m.backend.Unlock(context.WithoutCancel(ctx), id); err != nil {
			m.logger.Error("lock release failed",
				slog.String("lock", id),
				slog.String("error", err.Error()),
			)
		}
	}()
	return true, fn(ctx)
}
