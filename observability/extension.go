package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zendesk/samson-sub001/ext"
	"github.com/zendesk/samson-sub001/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension   = (*MetricsExtension)(nil)
	_ ext.JobQueued   = (*MetricsExtension)(nil)
	_ ext.JobStarted  = (*MetricsExtension)(nil)
	_ ext.JobFinished = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it
// with the extension registry to track queue pressure and outcomes.
type MetricsExtension struct {
	JobQueued   metric.Int64Counter
	JobWaiting  metric.Int64Counter
	JobStarted  metric.Int64Counter
	JobFinished metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter("github.com/zendesk/samson-sub001/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the given
// meter. Tests pass a meter backed by a ManualReader.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	queued, _ := meter.Int64Counter("samson.job.queued",
		metric.WithDescription("Executions handed to a queue"))
	waiting, _ := meter.Int64Counter("samson.job.waiting",
		metric.WithDescription("Executions that had to wait behind another one"))
	started, _ := meter.Int64Counter("samson.job.started",
		metric.WithDescription("Executions that began running"))
	finished, _ := meter.Int64Counter("samson.job.finished",
		metric.WithDescription("Executions that reached a terminal status"))

	return &MetricsExtension{
		JobQueued:   queued,
		JobWaiting:  waiting,
		JobStarted:  started,
		JobFinished: finished,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobQueued implements ext.JobQueued.
func (m *MetricsExtension) OnJobQueued(ctx context.Context, j *job.Job, key string, queued bool) error {
	attrs := metric.WithAttributes(
		attribute.String("project", j.ProjectID),
		attribute.String("queue", key),
	)
	m.JobQueued.Add(ctx, 1, attrs)
	if queued {
		m.JobWaiting.Add(ctx, 1, attrs)
	}
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("project", j.ProjectID)))
	return nil
}

// OnJobFinished implements ext.JobFinished.
func (m *MetricsExtension) OnJobFinished(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("project", j.ProjectID),
		attribute.String("status", string(j.Status)),
	))
	return nil
}
