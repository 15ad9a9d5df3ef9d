package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nashmick001/mikrotik-portal/pkg/config"
	"github.com/nashmick001/mikrotik-portal/pkg/logger"
)

var (
	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "RADIUS authentication and accounting backend for the hotspot portal",
	Long: `api runs the RADIUS authentication and accounting responders for a
MikroTik hotspot and exposes the portal-facing operations: issuing one-time
click-to-login credentials and logging clients in on the access device.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		opts := logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stderr}
		if cfg.LogFile.Path != "" {
			opts.File = &logger.FileOptions{
				Path:       cfg.LogFile.Path,
				MaxSizeMB:  cfg.LogFile.MaxSizeMB,
				MaxBackups: cfg.LogFile.MaxBackups,
				MaxAgeDays: cfg.LogFile.MaxAgeDays,
				Compress:   cfg.LogFile.Compress,
			}
		}
		log = logger.Init(opts).With().Str("env", cfg.Env).Logger()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Close()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
