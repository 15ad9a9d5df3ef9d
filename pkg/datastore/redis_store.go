package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// compareAndDeleteScript returns -1 when the key is missing, 0 when it holds
// another value and 1 after deleting a matching key.
const compareAndDeleteScript = `local v = redis.call('GET', KEYS[1])
if not v then
  return -1
end
if v == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0`

// RedisStore implements the Datastore interface using Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new RedisStore instance
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save stores fields as a Redis hash and refreshes the TTL when one is given
func (rs *RedisStore) Save(ctx context.Context, key string, fields []Field, ttl time.Duration) error {
	values := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		values = append(values, f.Name, f.Value)
	}

	if err := rs.client.HMSet(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to store data in Redis: %w", err)
	}

	if ttl <= 0 {
		return nil
	}
	if err := rs.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set TTL for key %s: %w", key, err)
	}
	return nil
}

// Load reads the whole hash stored at key
func (rs *RedisStore) Load(ctx context.Context, key string) (map[string]string, error) {
	data, err := rs.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s from Redis: %w", key, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// Delete removes key
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from Redis: %w", key, err)
	}
	return nil
}

// SetValue stores a plain string value with an expiry
func (rs *RedisStore) SetValue(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := rs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

// CompareAndDelete runs the comparison and delete as one Lua script so a
// matching value can be consumed exactly once.
func (rs *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (CompareResult, error) {
	n, err := rs.client.Eval(ctx, compareAndDeleteScript, []string{key}, value).Int64()
	if err != nil {
		return Absent, fmt.Errorf("failed to compare %s in Redis: %w", key, err)
	}
	switch n {
	case 1:
		return Consumed, nil
	case 0:
		return Mismatch, nil
	default:
		return Absent, nil
	}
}

// Ping checks connectivity
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}
