package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError is returned by Recover when the body panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *Run, next Handler) (retErr error) {
		defer func() {
			if v := recover(); v != nil {
				stack := debug.Stack()
				logger.Error("job body panicked",
					slog.String("job_id", r.Job.ID),
					slog.Any("panic", v),
					slog.String("stack", string(stack)),
				)
				retErr = &PanicError{Value: v, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
