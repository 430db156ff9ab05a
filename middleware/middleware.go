// Package middleware provides composable middleware around a job's run body.
// Middleware wraps the body synchronously and can observe or alter the run
// (recover from panics, log, bound its duration, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/zendesk/samson-sub001/job"
)

// Run describes the execution a middleware chain wraps.
type Run struct {
	Job *job.Job
	// Stage is the deploy stage name, empty for plain jobs.
	Stage string
	// QueueKey is the key the execution was serialized on.
	QueueKey string
	// Status is set by the body before it returns.
	Status job.Status
}

// Handler is the terminal function that runs the job body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It MUST call next to
// continue the chain unless short-circuiting on error.
type Middleware func(ctx context.Context, r *Run, next Handler) error

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, r *Run, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, r, prev)
			}
		}
		return h(ctx)
	}
}
