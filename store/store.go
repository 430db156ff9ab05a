// Package store defines the aggregate persistence interface. The job and
// deploy packages each define their own store interface; a backend
// implements both. Backends: Memory and Redis.
package store

import (
	"context"

	"github.com/zendesk/samson-sub001/deploy"
	"github.com/zendesk/samson-sub001/job"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	deploy.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
