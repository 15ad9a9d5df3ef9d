package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	clock "go.llib.dev/testcase/clock"

	"github.com/go-redis/redis/v8"
)

// RedisStream implements the Stream interface using Redis streams
type RedisStream struct {
	client *redis.Client
	// MaxLen caps each stream approximately; zero disables trimming.
	MaxLen int64
}

// NewRedisStream creates a new RedisStream instance
func NewRedisStream(client *redis.Client) *RedisStream {
	return &RedisStream{client: client}
}

// Push publishes a message to a Redis stream
func (rs *RedisStream) Push(ctx context.Context, streamKey string, message StreamMessage) error {
	ts := message.Timestamp
	if ts == 0 {
		ts = clock.Now().Unix()
	}

	values := []interface{}{
		"key", message.Key,
		"session_id", message.SessionID,
		"username", message.Username,
		"mac", message.MAC,
		"event", message.Event,
		"text", message.Text,
		"timestamp", ts,
	}

	_, err := rs.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: rs.MaxLen,
		Approx: rs.MaxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", streamKey, err)
	}

	return nil
}

// Pull consumes messages from a Redis stream using consumer groups
func (rs *RedisStream) Pull(ctx context.Context, config ConsumerConfig) ([]StreamMessage, error) {
	if err := rs.initializeConsumerGroup(ctx, config.StreamKey, config.ConsumerGroup); err != nil {
		return nil, fmt.Errorf("failed to initialize consumer group: %w", err)
	}

	streams, err := rs.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    config.ConsumerGroup,
		Consumer: config.ConsumerName,
		Streams:  []string{config.StreamKey, ">"},
		Count:    10,              // Read up to 10 messages at once
		Block:    time.Second * 5, // Block for 5 seconds if no messages
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []StreamMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, decodeMessage(msg))

			if err := rs.client.XAck(ctx, config.StreamKey, config.ConsumerGroup, msg.ID).Err(); err != nil {
				return messages, fmt.Errorf("failed to acknowledge message %s: %w", msg.ID, err)
			}
		}
	}

	return messages, nil
}

func decodeMessage(msg redis.XMessage) StreamMessage {
	str := func(name string) string {
		if v, ok := msg.Values[name].(string); ok {
			return v
		}
		return ""
	}
	ts, _ := strconv.ParseInt(str("timestamp"), 10, 64)
	return StreamMessage{
		ID:        msg.ID,
		Key:       str("key"),
		SessionID: str("session_id"),
		Username:  str("username"),
		MAC:       str("mac"),
		Event:     str("event"),
		Text:      str("text"),
		Timestamp: ts,
	}
}

// initializeConsumerGroup creates the consumer group (and stream) if it doesn't exist
func (rs *RedisStream) initializeConsumerGroup(ctx context.Context, streamKey, consumerGroup string) error {
	err := rs.client.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s for stream %s: %w", consumerGroup, streamKey, err)
	}
	return nil
}
