package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"layeh.com/radius"

	"github.com/nashmick001/mikrotik-portal/internal/ops"
	"github.com/nashmick001/mikrotik-portal/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication, accounting and ops servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps, err := InitializeDependencies(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize dependencies: %w", err)
		}
		defer func() {
			if err := deps.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close dependencies")
			}
		}()

		// workers outlive the listeners so in-flight accounting completes
		workCtx, stopWorkers := context.WithCancel(context.Background())
		defer stopWorkers()
		deps.Dispatcher.Start(workCtx)

		secret := []byte(cfg.Radius.Secret)
		authServer := &server.Server{
			Name:    "auth",
			Addr:    cfg.Radius.AuthAddr,
			Secret:  secret,
			Handler: radius.HandlerFunc(deps.AuthHandler.Handle),
			Policy:  server.DropMalformed,
			Logger:  log,
		}
		acctServer := &server.Server{
			Name:    "acct",
			Addr:    cfg.Radius.AcctAddr,
			Secret:  secret,
			Handler: radius.HandlerFunc(deps.AcctHandler.Handle),
			Policy:  server.AckMalformed,
			Logger:  log,
		}
		opsServer := &http.Server{
			Addr: cfg.Ops.Addr,
			Handler: ops.NewRouter(log,
				ops.Check{Name: "redis", Target: deps.Cache},
				ops.Check{Name: "sessions", Target: deps.Repository},
			),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, s := range []*server.Server{authServer, acctServer} {
			g.Go(func() error {
				err := s.ListenAndServe(gctx)
				if errors.Is(err, server.ErrServerClosed) {
					return nil
				}
				return err
			})
		}
		g.Go(func() error {
			log.Info().Str("addr", opsServer.Addr).Msg("ops server listening")
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return opsServer.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		stopWorkers()
		if err != nil {
			return err
		}
		log.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
