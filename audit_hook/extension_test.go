package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/zendesk/samson-sub001/audit_hook"
	"github.com/zendesk/samson-sub001/ext"
	"github.com/zendesk/samson-sub001/job"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
	err    error
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:        "job_1",
		ProjectID: "web",
		User:      "alice",
		Reference: "main",
		Commit:    "abc123",
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	if got := ah.New(&mockRecorder{}).Name(); got != "audit-hook" {
		t.Errorf("Name = %q", got)
	}
}

func TestExtension_JobQueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnJobQueued(context.Background(), newTestJob(), "project-web", true); err != nil {
		t.Fatalf("OnJobQueued: %v", err)
	}
	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobQueued || evt.Resource != ah.ResourceJob || evt.Category != ah.CategoryJob {
		t.Errorf("event = %+v", evt)
	}
	if evt.ResourceID != "job_1" || evt.Actor != "alice" {
		t.Errorf("ResourceID/Actor = %q/%q", evt.ResourceID, evt.Actor)
	}
	if evt.Metadata["queue"] != "project-web" || evt.Metadata["waiting"] != true || evt.Metadata["project"] != "web" {
		t.Errorf("Metadata = %v", evt.Metadata)
	}
}

func TestExtension_JobFinishedByStatus(t *testing.T) {
	tests := []struct {
		status   job.Status
		action   string
		severity string
		outcome  string
	}{
		{job.StatusSucceeded, ah.ActionJobSucceeded, ah.SeverityInfo, ah.OutcomeSuccess},
		{job.StatusFailed, ah.ActionJobFailed, ah.SeverityCritical, ah.OutcomeFailure},
		{job.StatusErrored, ah.ActionJobErrored, ah.SeverityCritical, ah.OutcomeFailure},
		{job.StatusCancelled, ah.ActionJobCancelled, ah.SeverityWarning, ah.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			rec := &mockRecorder{}
			j := newTestJob()
			j.Status = tt.status
			if tt.status != job.StatusSucceeded {
				j.Error = "boom"
			}
			if err := ah.New(rec).OnJobFinished(context.Background(), j, 1500*time.Millisecond); err != nil {
				t.Fatal(err)
			}
			evt := rec.last()
			if evt.Action != tt.action || evt.Severity != tt.severity || evt.Outcome != tt.outcome {
				t.Errorf("event = %+v", evt)
			}
			if evt.Metadata["elapsed_ms"] != int64(1500) {
				t.Errorf("elapsed_ms = %v", evt.Metadata["elapsed_ms"])
			}
			if j.Error != "" && evt.Reason != "boom" {
				t.Errorf("Reason = %q", evt.Reason)
			}
		})
	}
}

func TestExtension_EmptyMetadataDropped(t *testing.T) {
	rec := &mockRecorder{}
	j := newTestJob()
	j.Commit = ""
	_ = ah.New(rec).OnJobStarted(context.Background(), j)
	if _, ok := rec.last().Metadata["commit"]; ok {
		t.Errorf("empty commit recorded: %v", rec.last().Metadata)
	}
}

func TestExtension_WithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed))
	ctx := context.Background()

	j := newTestJob()
	_ = e.OnJobQueued(ctx, j, "k", false)
	_ = e.OnJobStarted(ctx, j)
	j.Status = job.StatusSucceeded
	_ = e.OnJobFinished(ctx, j, time.Second)
	_ = e.OnShutdown(ctx)
	if rec.count() != 0 {
		t.Fatalf("recorded %d filtered events", rec.count())
	}

	j.Status = job.StatusFailed
	_ = e.OnJobFinished(ctx, j, time.Second)
	if rec.count() != 1 || rec.last().Action != ah.ActionJobFailed {
		t.Errorf("events = %d, last = %+v", rec.count(), rec.last())
	}
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	rec := &mockRecorder{err: errors.New("backend down")}
	var buf bytes.Buffer
	e := ah.New(rec, ah.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if err := e.OnJobStarted(context.Background(), newTestJob()); err != nil {
		t.Errorf("OnJobStarted = %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "backend down") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(ah.New(rec))
	ctx := context.Background()

	j := newTestJob()
	reg.EmitJobQueued(ctx, j, "project-web", false)
	reg.EmitJobStarted(ctx, j)
	j.Status = job.StatusSucceeded
	reg.EmitJobFinished(ctx, j, time.Second)
	reg.EmitShutdown(ctx)

	if rec.count() != 4 {
		t.Fatalf("recorded %d events, want 4", rec.count())
	}
	if rec.last().Action != ah.ActionShutdown {
		t.Errorf("last = %+v", rec.last())
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := ah.LogRecorder(slog.New(slog.NewTextHandler(&buf, nil)))
	j := newTestJob()
	j.Status = job.StatusSucceeded
	_ = ah.New(rec).OnJobFinished(context.Background(), j, time.Second)

	out := buf.String()
	for _, want := range []string{"msg=audit", "action=job.succeeded", "actor=alice", "resource_id=job_1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestAllActions(t *testing.T) {
	if n := len(ah.AllActions()); n != 7 {
		t.Errorf("AllActions = %d", n)
	}
}
