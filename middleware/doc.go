// Package middleware provides composable middleware around a job's run body.
//
// A [Middleware] wraps the body of one execution. Middleware are composed
// with [Chain]; the first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// The body records the job's final status on [Run].Status before returning,
// so outer middleware can observe the outcome even when no error is
// returned (a failed command is an outcome, not an error).
//
// # Built-in Middleware
//
//   - [Logging]: logs job, project, stage, duration and outcome
//   - [Recover]: catches panics and converts them to *[PanicError]
//   - [Timeout]: cancels the body's context after a configured duration
//   - [Tracing]: wraps the run in an OpenTelemetry span
//   - [Metrics]: records run duration and outcome counters
package middleware
