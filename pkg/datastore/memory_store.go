package datastore

import (
	"context"
	"sync"
	"time"

	clock "go.llib.dev/testcase/clock"
)

type memoryEntry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Datastore with the same expiry semantics as
// RedisStore. It backs single-node development setups and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// lookup returns the live entry for key, evicting it if expired. Callers hold mu.
func (m *MemoryStore) lookup(key string) (*memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(clock.Now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) Save(_ context.Context, key string, fields []Field, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.hash == nil {
		e = &memoryEntry{hash: make(map[string]string)}
		m.entries[key] = e
	}
	for _, f := range fields {
		e.hash[f.Name] = f.Value
	}
	if ttl > 0 {
		e.expiresAt = clock.Now().Add(ttl)
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || len(e.hash) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) SetValue(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = clock.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) CompareAndDelete(_ context.Context, key, value string) (CompareResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.hash != nil {
		return Absent, nil
	}
	if e.value != value {
		return Mismatch, nil
	}
	delete(m.entries, key)
	return Consumed, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
