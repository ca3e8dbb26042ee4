package broker

import (
	"context"
)

// Topics used by the scan fanout.
const (
	TopicMatchQueue     = "match_queue"
	TopicIngestQueue    = "ingest_queue"
	TopicScoreJobs      = "score_jobs"
	TopicCompletionJobs = "completion_jobs"
)

// Handler consumes one message payload. A nil return acknowledges the
// message; an error makes the broker retry it up to its attempt limit.
type Handler func(ctx context.Context, payload string) error

// Broker is a topic-based message channel between task workers. Two
// implementations exist: an in-process one for the queue runner and tests,
// and a durable SQLite-backed one for the worker pool.
type Broker interface {
	Publish(ctx context.Context, topic string, payload string) error
	Subscribe(topic string, handler Handler)
}

// Countdown is a completion gate: a counter starts at the number of
// dispatched items and each finished item decrements it. The worker that
// observes zero runs the completion step.
type Countdown interface {
	NewCountdown(ctx context.Context, key string, n int) error
	Decrement(ctx context.Context, key string) (bool, error)
}
