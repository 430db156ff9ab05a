package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/zendesk/samson-sub001/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func expectNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("subscriber %s got unexpected %s", sub.ID(), evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_LifecycleEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-1", JobTopic("job-1"))
	ctx := context.Background()
	j := &job.Job{ID: "job-1", ProjectID: "web", User: "alice", Status: job.StatusPending}

	_ = b.OnJobQueued(ctx, j, "stage-1", true)
	evt := receive(t, sub)
	if evt.Type != EventJobQueued || evt.Queue != "stage-1" {
		t.Fatalf("got %+v", evt)
	}
	var data JobEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.JobID != "job-1" || !data.Waiting || data.User != "alice" {
		t.Errorf("data = %+v", data)
	}

	_ = b.OnJobStarted(ctx, j)
	if evt := receive(t, sub); evt.Type != EventJobStarted || evt.Queue != "stage-1" {
		t.Errorf("started event = %+v", evt)
	}

	j.Status = job.StatusSucceeded
	_ = b.OnJobFinished(ctx, j, 1500*time.Millisecond)
	evt = receive(t, sub)
	if evt.Type != EventJobFinished {
		t.Fatalf("got %s", evt.Type)
	}
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Status != "succeeded" || data.ElapsedMs != 1500 {
		t.Errorf("finished data = %+v", data)
	}

	if key := b.queueKey("job-1"); key != "" {
		t.Errorf("queue key retained after finish: %q", key)
	}
}

func TestBroker_TopicRouting(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	firehose := b.Subscribe("firehose-sub", TopicFirehose)
	jobs := b.Subscribe("jobs-sub", TopicJobs)
	queue := b.Subscribe("queue-sub", QueueTopic("stage-1"))
	other := b.Subscribe("other-sub", JobTopic("job-2"), QueueTopic("stage-2"))

	_ = b.OnJobQueued(context.Background(), &job.Job{ID: "job-1"}, "stage-1", false)

	for _, sub := range []*Subscriber{firehose, jobs, queue} {
		if evt := receive(t, sub); evt.Type != EventJobQueued {
			t.Errorf("%s got %s", sub.ID(), evt.Type)
		}
	}
	expectNothing(t, other)
}

func TestBroker_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-rm", TopicFirehose)
	b.RemoveSubscriber("sub-rm")

	if _, ok := <-sub.C(); ok {
		t.Error("channel not closed after RemoveSubscriber")
	}
	if got := b.Stats().SubscriberCount; got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}

	// Publishing after removal must not panic.
	_ = b.OnJobStarted(context.Background(), &job.Job{ID: "job-1"})
}

func TestBroker_StatsCountsDrops(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	b.Subscribe("slow", TopicJobs)

	ctx := context.Background()
	for range 3 {
		_ = b.OnJobStarted(ctx, &job.Job{ID: "job-1"})
	}

	stats := b.Stats()
	if stats.TotalPublished != 1 || stats.TotalDropped != 2 {
		t.Errorf("stats = %+v, want 1 published / 2 dropped", stats)
	}
}

func TestBroker_ShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicFirehose)
	_ = b.OnShutdown(context.Background())

	if _, ok := <-sub.C(); ok {
		t.Error("subscriber channel still open after shutdown")
	}
	if b.Topics().TopicCount() != 0 {
		t.Error("topics left after shutdown")
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("f", 10)
	sub.SetFilter(func(e *Event) bool { return e.Type == EventJobFinished })

	if sub.send(&Event{Type: EventJobStarted}) {
		t.Error("filtered event delivered")
	}
	if !sub.send(&Event{Type: EventJobFinished}) {
		t.Error("matching event rejected")
	}
	sub.Close()
	sub.Close()
	if sub.send(&Event{Type: EventJobFinished}) {
		t.Error("send after close succeeded")
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	valid := []string{TopicJobs, TopicFirehose, "job:job_abc", "queue:stage-1"}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v", topic, err)
		}
	}
	invalid := []string{"", "job:", "workflows", "deploy:1", "nope"}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) succeeded", topic)
		}
	}
}

func TestTopicRegistry(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("s", 10)
	tr.Subscribe("a", sub)
	tr.Subscribe("b", sub)

	if tr.TopicCount() != 2 || tr.SubscriberCount("a") != 1 {
		t.Fatalf("unexpected counts: topics=%d subs(a)=%d", tr.TopicCount(), tr.SubscriberCount("a"))
	}
	tr.Unsubscribe("a", "s")
	if tr.TopicCount() != 1 || len(sub.Topics()) != 1 {
		t.Errorf("after Unsubscribe: topics=%d sub.Topics=%v", tr.TopicCount(), sub.Topics())
	}
	tr.UnsubscribeAll("s")
	if tr.TopicCount() != 0 {
		t.Errorf("TopicCount after UnsubscribeAll = %d, want 0", tr.TopicCount())
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dedup-sub", 10)
	tr.Subscribe("topic-x", sub)
	tr.Subscribe("topic-y", sub)

	evt := &Event{Type: EventJobQueued, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}
	if delivered := tr.Broadcast([]string{"topic-x", "topic-y"}, evt); delivered != 1 {
		t.Errorf("Broadcast delivered to %d subscribers, want 1", delivered)
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		evt      *Event
		expected []string
	}{
		{"job only", &Event{Type: EventJobStarted, Topic: "job:j1"}, []string{TopicFirehose, TopicJobs, "job:j1"}},
		{"with queue", &Event{Type: EventJobQueued, Topic: "job:j1", Queue: "stage-1"}, []string{TopicFirehose, TopicJobs, "job:j1", "queue:stage-1"}},
		{"bare", &Event{Type: EventJobFinished}, []string{TopicFirehose, TopicJobs}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topics := resolveTopics(tt.evt)
			if len(topics) != len(tt.expected) {
				t.Fatalf("got %v, want %v", topics, tt.expected)
			}
			for i, topic := range topics {
				if topic != tt.expected[i] {
					t.Errorf("topic[%d] = %q, want %q", i, topic, tt.expected[i])
				}
			}
		})
	}
}
