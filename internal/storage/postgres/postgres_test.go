package postgres

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nashmick001/mikrotik-portal/internal/session"
	"github.com/nashmick001/mikrotik-portal/internal/storage/storagetest"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	// Clean tables for test isolation.
	pool.Exec(ctx, "DELETE FROM sessions") //nolint:errcheck

	return NewRepository(pool), func() {
		pool.Exec(ctx, "DELETE FROM sessions") //nolint:errcheck
		pool.Close()
	}
}

func TestPostgresStorage(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	storagetest.Run(t, s)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	if err := EnsureSchema(context.Background(), s.pool); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}
}

func TestCountersSaturate(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	ctx := context.Background()
	sess := &session.Session{
		SessionID: "huge",
		MAC:       "aa:bb:cc:dd:ee:ff",
		StartTime: time.Now().UTC().Truncate(time.Millisecond),
		BytesIn:   math.MaxUint64,
		Active:    true,
	}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := s.Get(ctx, "huge")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BytesIn != math.MaxInt64 {
		t.Errorf("expected saturated bytesIn, got %d", got.BytesIn)
	}

	err = s.Finalize(ctx, "huge", time.Now().UTC(), session.Counters{BytesIn: 10, BytesOut: math.MaxUint64})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	got, err = s.Get(ctx, "huge")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BytesIn != 10 || got.BytesOut != math.MaxInt64 {
		t.Errorf("unexpected counters after Finalize: in=%d out=%d", got.BytesIn, got.BytesOut)
	}
}
