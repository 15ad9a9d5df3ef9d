package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/nashmick001/mikrotik-portal/internal/consumer"
	"github.com/nashmick001/mikrotik-portal/pkg/config"
	"github.com/nashmick001/mikrotik-portal/pkg/stream"
)

// Dependencies holds all initialized consumer dependencies
type Dependencies struct {
	Consumer     *consumer.Consumer
	RedisClient  *redis.Client
	StreamClient stream.Stream
}

// InitializeDependencies sets up all required consumer dependencies
func InitializeDependencies(ctx context.Context, cfg *config.ConsumerConfig, log zerolog.Logger) (*Dependencies, error) {
	// Initialize Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to Redis")

	// Initialize stream client
	streamClient := stream.NewRedisStream(redisClient)

	// Create consumer with dependencies
	c := consumer.New(cfg, streamClient, log)

	return &Dependencies{
		Consumer:     c,
		RedisClient:  redisClient,
		StreamClient: streamClient,
	}, nil
}

// Close cleans up all resources
func (d *Dependencies) Close() error {
	if d.Consumer != nil {
		d.Consumer.Stop()
	}
	if d.RedisClient != nil {
		return d.RedisClient.Close()
	}
	return nil
}
