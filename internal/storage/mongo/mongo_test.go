package mongo

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/nashmick001/mikrotik-portal/internal/session"
	"github.com/nashmick001/mikrotik-portal/internal/storage/storagetest"
)

func newTestRepository(t *testing.T) (*Repository, func()) {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping MongoDB tests")
	}

	ctx := context.Background()
	r, err := NewRepositoryFromURI(ctx, Config{
		URI:      uri,
		Database: fmt.Sprintf("sessions_test_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("could not connect to mongo: %v", err)
	}

	return r, func() {
		r.db.Drop(ctx) //nolint:errcheck
		r.Close(ctx)   //nolint:errcheck
	}
}

func TestMongoStorage(t *testing.T) {
	r, cleanup := newTestRepository(t)
	defer cleanup()

	storagetest.Run(t, r)
}

func TestCountersSaturate(t *testing.T) {
	r, cleanup := newTestRepository(t)
	defer cleanup()

	ctx := context.Background()
	sess := &session.Session{
		SessionID: "huge",
		MAC:       "aa:bb:cc:dd:ee:ff",
		StartTime: time.Now().UTC().Truncate(time.Millisecond),
		BytesIn:   math.MaxUint64,
		Active:    true,
	}
	if err := r.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := r.Get(ctx, "huge")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BytesIn != math.MaxInt64 {
		t.Errorf("expected saturated bytesIn, got %d", got.BytesIn)
	}

	err = r.Finalize(ctx, "huge", time.Now().UTC(), session.Counters{BytesIn: 10, BytesOut: math.MaxUint64})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	got, err = r.Get(ctx, "huge")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BytesIn != 10 || got.BytesOut != math.MaxInt64 {
		t.Errorf("unexpected counters after Finalize: in=%d out=%d", got.BytesIn, got.BytesOut)
	}
}
