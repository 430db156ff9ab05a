package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Timeout returns middleware that bounds a run's duration. Once d elapses
// the body's context is cancelled, which stops its commands. A zero d
// disables the bound.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, r *Run, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", r.Job.ID),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
