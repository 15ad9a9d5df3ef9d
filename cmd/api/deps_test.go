package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nashmick001/mikrotik-portal/internal/session"
	"github.com/nashmick001/mikrotik-portal/pkg/config"
)

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	repo, err := openRepository(ctx, config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	require.NoError(t, repo.Ping(ctx))

	repo, err = openRepository(ctx, config.StorageConfig{Driver: "bbolt", Path: filepath.Join(t.TempDir(), "nested", "sessions.db")})
	require.NoError(t, err)
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close(ctx))

	_, err = openRepository(ctx, config.StorageConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestPrintSessions(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	rows := []session.Session{
		{SessionID: "sid1", MAC: "aa:bb:cc:dd:ee:ff", IP: "10.0.0.1", StartTime: start, Active: true},
		{SessionID: "sid2", MAC: "guest", StartTime: start, EndTime: &end, BytesIn: 2000, BytesOut: 10},
	}

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, printSessions(cmd, rows))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "SESSION"))
	assert.Contains(t, lines[1], "sid1")
	assert.Contains(t, lines[1], "true")
	assert.Contains(t, lines[2], "2025-03-01T11:00:00Z")
	assert.Contains(t, lines[2], "2000")
}
