package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nashmick001/mikrotik-portal/pkg/config"
	"github.com/nashmick001/mikrotik-portal/pkg/logger"
)

func main() {
	log := logger.Init(logger.Options{Level: os.Getenv("LOG_LEVEL"), Pretty: os.Getenv("LOG_PRETTY") == "true"})

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load consumer config")
	}

	flag.StringVar(&cfg.ConsumerGroup, "group", cfg.ConsumerGroup, "Consumer Group")
	flag.StringVar(&cfg.ConsumerName, "name", cfg.ConsumerName, "Consumer Name")
	flag.StringVar(&cfg.StreamKey, "stream", cfg.StreamKey, "Stream to read session events from")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for daily session logs")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Also log interim updates")
	flag.Parse()

	log.Info().
		Str("redis", cfg.Redis.Addr()).
		Str("stream", cfg.StreamKey).
		Str("group", cfg.ConsumerGroup).
		Str("name", cfg.ConsumerName).
		Str("log_dir", cfg.LogDir).
		Bool("debug", cfg.Debug).
		Msg("starting session log consumer")

	// Initialize all dependencies
	deps, err := InitializeDependencies(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer deps.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- deps.Consumer.Start()
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		deps.Consumer.Stop()
		if err := <-errChan; err != nil {
			log.Error().Err(err).Msg("consumer stopped with error")
		}
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("consumer error")
			deps.Close()
			os.Exit(1)
		}
	}

	log.Info().Msg("consumer stopped")
}
