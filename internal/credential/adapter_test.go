package credential

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.llib.dev/testcase/clock/timecop"

	"github.com/nashmick001/mikrotik-portal/pkg/datastore"
)

const identity = "AA:BB:CC:DD:EE:FF"

func fixedRand() *bytes.Reader {
	return bytes.NewReader(bytes.Repeat([]byte{0xab}, secretBytes))
}

func TestAdapter_IssueStoresSecretWithTTL(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	defer redisClient.Close()

	adapter := NewAdapter(datastore.NewRedisStore(redisClient), zerolog.Nop())
	adapter.Rand = fixedRand()

	want := "abababababababababababababababab"
	mock.ExpectSet("auth:"+identity, want, 60*time.Second).SetVal("OK")

	cred, err := adapter.Issue(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, Credential{Identity: identity, Secret: want}, cred)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_IssueStoreFailure(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	defer redisClient.Close()

	adapter := NewAdapter(datastore.NewRedisStore(redisClient), zerolog.Nop())
	adapter.Rand = fixedRand()
	mock.ExpectSet("auth:"+identity, "abababababababababababababababab", TTL).SetErr(fmt.Errorf("Redis connection failed"))

	_, err := adapter.Issue(context.Background(), identity)
	assert.Error(t, err)
}

func TestAdapter_IssueRejectsEmptyIdentity(t *testing.T) {
	adapter := NewAdapter(datastore.NewMemoryStore(), zerolog.Nop())
	_, err := adapter.Issue(context.Background(), "")
	assert.Error(t, err)
}

func TestAdapter_SecretEntropy(t *testing.T) {
	adapter := NewAdapter(datastore.NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	a, err := adapter.Issue(ctx, identity)
	require.NoError(t, err)
	b, err := adapter.Issue(ctx, identity)
	require.NoError(t, err)

	assert.Len(t, a.Secret, 32)
	assert.NotEqual(t, a.Secret, b.Secret)
}

func TestAdapter_SingleUse(t *testing.T) {
	adapter := NewAdapter(datastore.NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	cred, err := adapter.Issue(ctx, identity)
	require.NoError(t, err)

	ok, err := adapter.Validate(ctx, identity, cred.Secret)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.Validate(ctx, identity, cred.Secret)
	require.NoError(t, err)
	assert.False(t, ok, "a consumed credential must not validate twice")
}

func TestAdapter_WrongSecretAllowsRetry(t *testing.T) {
	adapter := NewAdapter(datastore.NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	cred, err := adapter.Issue(ctx, identity)
	require.NoError(t, err)

	ok, err := adapter.Validate(ctx, identity, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = adapter.Validate(ctx, identity, cred.Secret)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdapter_ReissueReplacesOutstanding(t *testing.T) {
	adapter := NewAdapter(datastore.NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	old, _ := adapter.Issue(ctx, identity)
	fresh, _ := adapter.Issue(ctx, identity)

	ok, _ := adapter.Validate(ctx, identity, old.Secret)
	assert.False(t, ok)
	ok, _ = adapter.Validate(ctx, identity, fresh.Secret)
	assert.True(t, ok)
}

func TestAdapter_TTL(t *testing.T) {
	issuedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{name: "just before expiry", elapsed: TTL - time.Second, want: true},
		{name: "at expiry", elapsed: TTL, want: false},
		{name: "long after expiry", elapsed: 10 * TTL, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timecop.Travel(t, issuedAt, timecop.Freeze)
			adapter := NewAdapter(datastore.NewMemoryStore(), zerolog.Nop())
			ctx := context.Background()

			cred, err := adapter.Issue(ctx, identity)
			require.NoError(t, err)

			timecop.Travel(t, issuedAt.Add(tt.elapsed), timecop.Freeze)
			ok, err := adapter.Validate(ctx, identity, cred.Secret)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestAdapter_ValidateFailsClosed(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	defer redisClient.Close()

	adapter := NewAdapter(datastore.NewRedisStore(redisClient), zerolog.Nop())
	mock.ExpectEval(`local v = redis.call('GET', KEYS[1])
if not v then
  return -1
end
if v == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0`, []string{"auth:" + identity}, "secret").SetErr(fmt.Errorf("connection refused"))

	ok, err := adapter.Validate(context.Background(), identity, "secret")
	assert.Error(t, err)
	assert.False(t, ok)
}
