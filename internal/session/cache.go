package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nashmick001/mikrotik-portal/pkg/datastore"
)

const cachePrefix = "session:"

// CacheKey returns the ephemeral store key for a session id.
func CacheKey(sessionID string) string {
	return cachePrefix + sessionID
}

// Cache keeps live sessions as hashes in the ephemeral store. Every write
// re-arms the key's TTL so abandoned sessions eventually disappear.
type Cache struct {
	store datastore.Datastore
	ttl   time.Duration
}

// NewCache returns a Cache over store. A zero ttl leaves keys without expiry.
func NewCache(store datastore.Datastore, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Start writes a fresh live record with zero counters.
func (c *Cache) Start(ctx context.Context, s *Session) error {
	return c.store.Save(ctx, CacheKey(s.SessionID), []datastore.Field{
		{Name: "mac", Value: s.MAC},
		{Name: "ip", Value: s.IP},
		{Name: "username", Value: s.Username},
		{Name: "startTime", Value: formatTime(s.StartTime)},
		{Name: "bytesIn", Value: "0"},
		{Name: "bytesOut", Value: "0"},
		{Name: "active", Value: "1"},
	}, c.ttl)
}

// Update overwrites the counters of an existing live record.
func (c *Cache) Update(ctx context.Context, sessionID string, in, out uint64, at time.Time) error {
	return c.store.Save(ctx, CacheKey(sessionID), []datastore.Field{
		{Name: "bytesIn", Value: strconv.FormatUint(in, 10)},
		{Name: "bytesOut", Value: strconv.FormatUint(out, 10)},
		{Name: "updateTime", Value: formatTime(at)},
	}, c.ttl)
}

// Track writes a live record for a session whose Start was never seen.
func (c *Cache) Track(ctx context.Context, s *Session) error {
	fields := []datastore.Field{
		{Name: "mac", Value: s.MAC},
		{Name: "ip", Value: s.IP},
		{Name: "username", Value: s.Username},
		{Name: "bytesIn", Value: strconv.FormatUint(s.BytesIn, 10)},
		{Name: "bytesOut", Value: strconv.FormatUint(s.BytesOut, 10)},
	}
	if s.UpdateTime != nil {
		fields = append(fields, datastore.Field{Name: "updateTime", Value: formatTime(*s.UpdateTime)})
	}
	fields = append(fields, datastore.Field{Name: "active", Value: "1"})
	return c.store.Save(ctx, CacheKey(s.SessionID), fields, c.ttl)
}

// Get returns the live record for sessionID, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := c.store.Load(ctx, CacheKey(sessionID))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s := &Session{
		SessionID: sessionID,
		MAC:       data["mac"],
		IP:        data["ip"],
		Username:  data["username"],
		Active:    data["active"] == "1",
	}
	if t, ok := parseTime(data["startTime"]); ok {
		s.StartTime = t
	}
	if t, ok := parseTime(data["updateTime"]); ok {
		s.UpdateTime = &t
	}
	s.BytesIn, _ = strconv.ParseUint(data["bytesIn"], 10, 64)
	s.BytesOut, _ = strconv.ParseUint(data["bytesOut"], 10, 64)
	return s, nil
}

// Delete drops the live record.
func (c *Cache) Delete(ctx context.Context, sessionID string) error {
	if err := c.store.Delete(ctx, CacheKey(sessionID)); err != nil {
		return fmt.Errorf("delete cached session %s: %w", sessionID, err)
	}
	return nil
}

// Ping checks the ephemeral store.
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, err == nil
}
