package stream

import "context"

// Session lifecycle event names carried in StreamMessage.Event
const (
	EventStart  = "start"
	EventUpdate = "update"
	EventStop   = "stop"
	EventError  = "error"
	EventWarn   = "warn"
)

// StreamMessage represents a session lifecycle message sent to a stream
type StreamMessage struct {
	ID        string
	Key       string // ephemeral record key, session:<sessionId>
	SessionID string
	Username  string
	MAC       string
	Event     string
	Text      string
	Timestamp int64
}

// ConsumerConfig holds configuration for stream consumers
type ConsumerConfig struct {
	StreamKey     string
	ConsumerGroup string
	ConsumerName  string
}

// Stream interface defines methods for publishing and consuming messages from streams
type Stream interface {
	Push(ctx context.Context, streamKey string, message StreamMessage) error
	Pull(ctx context.Context, config ConsumerConfig) ([]StreamMessage, error)
}
