// Package stream delivers job activity to connected clients. It has two
// halves: the Broker fans lifecycle events (queued, started, finished) out
// over topics, and the Streamer forwards one execution's live output over
// server-sent events or a websocket.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobQueued   EventType = "job.queued"
	EventJobStarted  EventType = "job.started"
	EventJobFinished EventType = "job.finished"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the job topic this event was published on.
	Topic string `json:"topic"`

	// Queue is the queue key of the job, when known.
	Queue string `json:"queue,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	ProjectID string `json:"project_id"`
	User      string `json:"user"`
	Reference string `json:"reference,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Status    string `json:"status"`
	Waiting   bool   `json:"waiting,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}
