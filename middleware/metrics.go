package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for engine metrics.
const meterName = "github.com/zendesk/samson-sub001"

// Metrics returns middleware that records per-run metrics using the global
// OTel MeterProvider. Without a configured provider the instruments are
// noops.
//
// Instruments:
//   - samson.job.duration (Float64Histogram): run time in seconds
//   - samson.job.executions (Int64Counter): finished runs
//
// Both carry project, stage and status attributes. Status is the run's
// final job status, or "errored" when the body returned an error.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"samson.job.duration",
		metric.WithDescription("Duration of job runs in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"samson.job.executions",
		metric.WithDescription("Total number of finished job runs"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, r *Run, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := string(r.Status)
		if err != nil || status == "" {
			status = "errored"
		}

		attrs := metric.WithAttributes(
			attribute.String("project", r.Job.ProjectID),
			attribute.String("stage", r.Stage),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
