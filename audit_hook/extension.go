package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zendesk/samson-sub001/ext"
	"github.com/zendesk/samson-sub001/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension   = (*Extension)(nil)
	_ ext.JobQueued   = (*Extension)(nil)
	_ ext.JobStarted  = (*Extension)(nil)
	_ ext.JobFinished = (*Extension)(nil)
	_ ext.Shutdown    = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to logger at info level.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
		}
		if evt.Actor != "" {
			attrs = append(attrs, slog.String("actor", evt.Actor))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
		return nil
	})
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension turns lifecycle hooks into audit events.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobQueued implements ext.JobQueued.
func (e *Extension) OnJobQueued(ctx context.Context, j *job.Job, key string, queued bool) error {
	return e.record(ctx, ActionJobQueued, SeverityInfo, OutcomeSuccess, j, "",
		"queue", key,
		"waiting", queued,
		"reference", j.Reference,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, "",
		"reference", j.Reference,
		"commit", j.Commit,
	)
}

// OnJobFinished implements ext.JobFinished.
func (e *Extension) OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	action, severity, outcome := finishedAction(j.Status)
	return e.record(ctx, action, severity, outcome, j, j.Error,
		"reference", j.Reference,
		"commit", j.Commit,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Engine lifecycle hooks ──────────────────────────

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	if !e.wants(ActionShutdown) {
		return nil
	}
	e.send(ctx, &AuditEvent{
		Action:   ActionShutdown,
		Resource: ResourceEngine,
		Category: CategoryEngine,
		Outcome:  OutcomeSuccess,
		Severity: SeverityInfo,
	})
	return nil
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) wants(action string) bool {
	return e.enabled == nil || e.enabled[action]
}

// record sends a job event if action is enabled. kvPairs become Metadata;
// empty string values are dropped.
func (e *Extension) record(ctx context.Context, action, severity, outcome string, j *job.Job, reason string, kvPairs ...any) error {
	if !e.wants(action) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	meta["project"] = j.ProjectID
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		if s, isStr := kvPairs[i+1].(string); isStr && s == "" {
			continue
		}
		meta[key] = kvPairs[i+1]
	}

	e.send(ctx, &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID,
		Actor:      j.User,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	})
	return nil
}

func (e *Extension) send(ctx context.Context, evt *AuditEvent) {
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}
