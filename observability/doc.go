// Package observability provides an OpenTelemetry metrics extension that
// counts execution lifecycle events: queued, started and finished jobs,
// with the terminal status recorded as an attribute.
//
// For per-execution tracing and duration histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
