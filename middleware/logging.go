package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *Run, next Handler) error {
		logger.Info("job started",
			slog.String("job_id", r.Job.ID),
			slog.String("project", r.Job.ProjectID),
			slog.String("stage", r.Stage),
			slog.String("user", r.Job.User),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job errored",
				slog.String("job_id", r.Job.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job finished",
				slog.String("job_id", r.Job.ID),
				slog.String("status", string(r.Status)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
