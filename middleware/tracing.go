package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zendesk/samson-sub001/job"
)

// tracerName is the instrumentation scope name for engine tracing.
const tracerName = "github.com/zendesk/samson-sub001"

// Tracing returns middleware that wraps each run in an OpenTelemetry span
// using the global TracerProvider.
//
// Span attributes: samson.job.id, samson.project, samson.stage,
// samson.queue_key, samson.user, and samson.status once the run ends. Runs
// that error or end failed get codes.Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *Run, next Handler) error {
		ctx, span := tracer.Start(ctx, "samson.job.execute",
			trace.WithAttributes(
				attribute.String("samson.job.id", r.Job.ID),
				attribute.String("samson.project", r.Job.ProjectID),
				attribute.String("samson.stage", r.Stage),
				attribute.String("samson.queue_key", r.QueueKey),
				attribute.String("samson.user", r.Job.User),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("samson.status", string(r.Status)))
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case r.Status == job.StatusFailed || r.Status == job.StatusErrored:
			span.SetStatus(codes.Error, string(r.Status))
		default:
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
