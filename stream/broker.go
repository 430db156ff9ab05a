package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zendesk/samson-sub001/ext"
	"github.com/zendesk/samson-sub001/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension   = (*Broker)(nil)
	_ ext.JobQueued   = (*Broker)(nil)
	_ ext.JobStarted  = (*Broker)(nil)
	_ ext.JobFinished = (*Broker)(nil)
	_ ext.Shutdown    = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the lifecycle event broker. It is registered as an extension
// to receive job events and fans them out to subscribers via topic-based
// pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber
	queueKeys   sync.Map // jobID → queue key, from queued until finished

	totalPublished atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	stats := BrokerStats{TopicCount: b.topics.TopicCount(), TotalPublished: b.totalPublished.Load()}
	b.subscribers.Range(func(_, v any) bool {
		stats.SubscriberCount++
		stats.TotalDropped += v.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return stats
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

func (b *Broker) publish(typ EventType, j *job.Job, queue string, data JobEventData) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("stream: marshal event data", slog.String("error", err.Error()))
		return
	}
	evt := &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID),
		Queue:     queue,
		Data:      raw,
	}
	b.totalPublished.Add(int64(b.topics.Broadcast(resolveTopics(evt), evt)))
}

func eventData(j *job.Job) JobEventData {
	return JobEventData{
		JobID:     j.ID,
		ProjectID: j.ProjectID,
		User:      j.User,
		Reference: j.Reference,
		Commit:    j.Commit,
		Status:    string(j.Status),
		Error:     j.Error,
	}
}

func (b *Broker) queueKey(jobID string) string {
	if v, ok := b.queueKeys.Load(jobID); ok {
		return v.(string) //nolint:errcheck // only strings are stored
	}
	return ""
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobQueued implements ext.JobQueued.
func (b *Broker) OnJobQueued(_ context.Context, j *job.Job, key string, queued bool) error {
	b.queueKeys.Store(j.ID, key)
	data := eventData(j)
	data.Waiting = queued
	b.publish(EventJobQueued, j, key, data)
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publish(EventJobStarted, j, b.queueKey(j.ID), eventData(j))
	return nil
}

// OnJobFinished implements ext.JobFinished.
func (b *Broker) OnJobFinished(_ context.Context, j *job.Job, elapsed time.Duration) error {
	key, _ := b.queueKeys.LoadAndDelete(j.ID)
	keyStr, _ := key.(string)
	data := eventData(j)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventJobFinished, j, keyStr, data)
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown implements ext.Shutdown by closing every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are subscriber IDs
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
