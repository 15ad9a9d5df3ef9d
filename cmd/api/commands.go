package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/nashmick001/mikrotik-portal/internal/credential"
	"github.com/nashmick001/mikrotik-portal/internal/device"
	"github.com/nashmick001/mikrotik-portal/internal/session"
	"github.com/nashmick001/mikrotik-portal/pkg/datastore"
)

var issueCmd = &cobra.Command{
	Use:   "issue <mac>",
	Short: "Issue a one-time credential for a client",
	Long: `issue stores a fresh single-use secret for the given identity and prints
it as JSON. The credential expires after 60 seconds or on first use.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
		defer cancel()

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		adapter := credential.NewAdapter(datastore.NewRedisStore(client), log)
		cred, err := adapter.Issue(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, cred)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <ip> <user> <password>",
	Short: "Log a client in on the access device",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := device.NewClient(cfg.Device, log)
		res := client.LoginUser(cmd.Context(), args[0], args[1], args[2])
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("device login failed: %s", res.Message)
		}
		return nil
	},
}

var activeOnly bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions from the durable store",
	Long: `sessions prints the rows of the durable session store. The embedded
bbolt store is locked by a running server; stop it or use a networked
driver to list sessions while serving.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
		defer cancel()

		repo, err := openRepository(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer repo.Close(context.Background()) //nolint:errcheck

		rows, err := repo.List(ctx, activeOnly)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		return printSessions(cmd, rows)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSessions(cmd *cobra.Command, rows []session.Session) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMAC\tIP\tSTART\tEND\tIN\tOUT\tACTIVE")
	for _, s := range rows {
		end := "-"
		if s.EndTime != nil {
			end = s.EndTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%t\n",
			s.SessionID, s.MAC, s.IP, s.StartTime.UTC().Format(time.RFC3339), end, s.BytesIn, s.BytesOut, s.Active)
	}
	return w.Flush()
}

func init() {
	sessionsCmd.Flags().BoolVar(&activeOnly, "active", false, "only list active sessions")
	rootCmd.AddCommand(issueCmd, loginCmd, sessionsCmd)
}

