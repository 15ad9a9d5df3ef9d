// Package storagetest holds the behaviour every session.Repository backend
// must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nashmick001/mikrotik-portal/internal/session"
)

// Run exercises repo. It expects an empty repository.
func Run(t *testing.T, repo session.Repository) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("CreateGet", func(t *testing.T) {
		s := &session.Session{
			SessionID: "sid1",
			MAC:       "aa:bb:cc:dd:ee:ff",
			IP:        "10.0.0.7",
			Username:  "AA:BB:CC:DD:EE:FF",
			StartTime: start,
			Active:    true,
		}
		require.NoError(t, repo.Create(ctx, s))
		assert.NotZero(t, s.ID)

		got, err := repo.Get(ctx, "sid1")
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, "aa:bb:cc:dd:ee:ff", got.MAC)
		assert.Equal(t, "10.0.0.7", got.IP)
		assert.True(t, got.StartTime.Equal(start))
		assert.True(t, got.Active)
		assert.Nil(t, got.EndTime)
		assert.Zero(t, got.BytesIn)
	})

	t.Run("DuplicateCreate", func(t *testing.T) {
		err := repo.Create(ctx, &session.Session{SessionID: "sid1", MAC: "x", Username: "x", StartTime: start.Add(time.Minute), Active: true})
		assert.ErrorIs(t, err, session.ErrDuplicate)

		got, err := repo.Get(ctx, "sid1")
		require.NoError(t, err)
		assert.True(t, got.StartTime.Equal(start), "existing row must be untouched")
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "nope")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("Finalize", func(t *testing.T) {
		end := start.Add(time.Hour)
		require.NoError(t, repo.Finalize(ctx, "sid1", end, session.Counters{BytesIn: 2000, BytesOut: 1 << 33}))

		got, err := repo.Get(ctx, "sid1")
		require.NoError(t, err)
		assert.False(t, got.Active)
		require.NotNil(t, got.EndTime)
		assert.True(t, got.EndTime.Equal(end))
		assert.Equal(t, uint64(2000), got.BytesIn)
		assert.Equal(t, uint64(1<<33), got.BytesOut)
	})

	t.Run("FinalizeMissing", func(t *testing.T) {
		err := repo.Finalize(ctx, "nope", start, session.Counters{})
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, &session.Session{
			SessionID: "sid2", MAC: "m2", Username: "u2", StartTime: start.Add(time.Minute), Active: true,
		}))

		all, err := repo.List(ctx, false)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "sid1", all[0].SessionID)
		assert.Equal(t, "sid2", all[1].SessionID)

		active, err := repo.List(ctx, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "sid2", active[0].SessionID)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})
}
