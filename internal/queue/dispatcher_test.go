package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_SameKeyNeverOverlaps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(4, zerolog.Nop())
	d.Start(ctx)

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Do(ctx, "sid1", func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight)
}

func TestDispatcher_PreservesSubmissionOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(2, zerolog.Nop())
	d.Start(ctx)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, d.Do(ctx, "sid1", func(context.Context) error {
			got = append(got, i)
			return nil
		}))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDispatcher_ReturnsJobError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(1, zerolog.Nop())
	d.Start(ctx)

	boom := errors.New("boom")
	err := d.Do(ctx, "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_DifferentShardsRunConcurrently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(2, zerolog.Nop())
	d.Start(ctx)

	blocked := "a"
	other := ""
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("k%d", i)
		if d.shardIndex(k) != d.shardIndex(blocked) {
			other = k
			break
		}
	}
	require.NotEmpty(t, other)

	release := make(chan struct{})
	go d.Do(ctx, blocked, func(context.Context) error { //nolint:errcheck
		<-release
		return nil
	})
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- d.Do(ctx, other, func(context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("job on an idle shard was blocked by another shard")
	}
}

func TestDispatcher_StoppedAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(1, zerolog.Nop())
	d.Start(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		err := d.Do(context.Background(), "k", func(context.Context) error { return nil })
		return errors.Is(err, ErrStopped)
	}, time.Second, 10*time.Millisecond)
}

func TestNewDispatcher_DefaultWorkers(t *testing.T) {
	d := NewDispatcher(0, zerolog.Nop())
	assert.Len(t, d.workers, defaultWorkers)
}
