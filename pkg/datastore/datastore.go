package datastore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when the key does not exist or has expired.
var ErrNotFound = errors.New("datastore: key not found")

// Field is a single hash field. Fields are written in slice order.
type Field struct {
	Name  string
	Value string
}

// CompareResult reports the outcome of CompareAndDelete.
type CompareResult int

const (
	// Absent means the key did not exist (never set or expired).
	Absent CompareResult = iota
	// Mismatch means the key exists but holds a different value; it is left intact.
	Mismatch
	// Consumed means the value matched and the key has been deleted.
	Consumed
)

func (r CompareResult) String() string {
	switch r {
	case Absent:
		return "absent"
	case Mismatch:
		return "mismatch"
	case Consumed:
		return "consumed"
	}
	return "unknown"
}

// Datastore is the ephemeral, TTL-capable store shared by credentials and
// live session records.
type Datastore interface {
	// Save merges fields into the hash at key. A positive ttl (re)arms the
	// key's expiry; zero leaves any existing expiry untouched.
	Save(ctx context.Context, key string, fields []Field, ttl time.Duration) error
	// Load returns every field of the hash at key, or ErrNotFound.
	Load(ctx context.Context, key string) (map[string]string, error)
	Delete(ctx context.Context, key string) error
	// SetValue stores a plain value, replacing any previous one.
	SetValue(ctx context.Context, key, value string, ttl time.Duration) error
	// CompareAndDelete atomically deletes key if it holds value.
	CompareAndDelete(ctx context.Context, key, value string) (CompareResult, error)
	Ping(ctx context.Context) error
}
