package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job handles one message type pulled off the queue.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type the job consumes.
	Type() string

	// Handle processes one payload.
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Publisher is the enqueue-side interface handed to producers.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload interface{}) error
}

// Config tunes the consumer side.
type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
}

// Message is the wire envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}
