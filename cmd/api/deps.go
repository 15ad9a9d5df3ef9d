package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/nashmick001/mikrotik-portal/internal/accounting"
	"github.com/nashmick001/mikrotik-portal/internal/auth"
	"github.com/nashmick001/mikrotik-portal/internal/credential"
	"github.com/nashmick001/mikrotik-portal/internal/device"
	"github.com/nashmick001/mikrotik-portal/internal/queue"
	"github.com/nashmick001/mikrotik-portal/internal/session"
	boltstore "github.com/nashmick001/mikrotik-portal/internal/storage/bbolt"
	"github.com/nashmick001/mikrotik-portal/internal/storage/memory"
	mongostore "github.com/nashmick001/mikrotik-portal/internal/storage/mongo"
	"github.com/nashmick001/mikrotik-portal/internal/storage/postgres"
	"github.com/nashmick001/mikrotik-portal/pkg/config"
	"github.com/nashmick001/mikrotik-portal/pkg/datastore"
	"github.com/nashmick001/mikrotik-portal/pkg/stream"
)

const startupTimeout = 10 * time.Second

// Dependencies holds all initialized handlers and clients
type Dependencies struct {
	AuthHandler *auth.Handler
	AcctHandler *accounting.Handler
	Credentials *credential.Adapter
	Sessions    *session.Manager
	Cache       *session.Cache
	Repository  session.Repository
	Device      *device.Client
	Dispatcher  *queue.Dispatcher
	RedisClient *redis.Client
}

// InitializeDependencies sets up all required dependencies based on configuration
func InitializeDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

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

	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	log.Info().Str("driver", cfg.Storage.Driver).Msg("session store ready")

	// Initialize interface implementations
	datastoreClient := datastore.NewRedisStore(redisClient)
	streamClient := stream.NewRedisStream(redisClient)

	cache := session.NewCache(datastoreClient, cfg.Session.CacheTTL)
	sessions := session.NewManager(cache, repo, streamClient, log)
	credentials := credential.NewAdapter(datastoreClient, log)
	dispatcher := queue.NewDispatcher(cfg.Session.Workers, log)

	return &Dependencies{
		AuthHandler: auth.NewHandler(credentials, cfg.Radius.Reply),
		AcctHandler: accounting.NewHandler(sessions, dispatcher),
		Credentials: credentials,
		Sessions:    sessions,
		Cache:       cache,
		Repository:  repo,
		Device:      device.NewClient(cfg.Device, log),
		Dispatcher:  dispatcher,
		RedisClient: redisClient,
	}, nil
}

// openRepository opens the durable session store selected by cfg.Driver.
func openRepository(ctx context.Context, cfg config.StorageConfig) (session.Repository, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewRepository(), nil
	case "bbolt":
		repo, err := boltstore.NewRepositoryFromFile(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open bbolt store %s: %w", cfg.Path, err)
		}
		return repo, nil
	case "postgres":
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return repo, nil
	case "mongo":
		repo, err := mongostore.NewRepositoryFromURI(ctx, mongostore.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// Close cleans up all resources
func (d *Dependencies) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if d.Repository != nil {
		errs = append(errs, d.Repository.Close(ctx))
	}
	if d.RedisClient != nil {
		errs = append(errs, d.RedisClient.Close())
	}
	return errors.Join(errs...)
}
