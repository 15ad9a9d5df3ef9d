// Package bbolt provides a BBolt-backed session repository, the default
// durable store for single-node deployments.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nashmick001/mikrotik-portal/internal/session"
)

var sessionsBucket = []byte("sessions")

// Store implements session.Repository backed by a BBolt database. Rows are
// JSON documents keyed by session id; surrogate ids come from the bucket
// sequence.
type Store struct {
	db *bbolt.DB
}

var _ session.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path, creating
// parent directories as needed, and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func (s *Store) Create(_ context.Context, sess *session.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		key := []byte(sess.SessionID)
		if b.Get(key) != nil {
			return fmt.Errorf("%s: %w", sess.SessionID, session.ErrDuplicate)
		}
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		sess.ID = int64(id)
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) Finalize(_ context.Context, sessionID string, end time.Time, c session.Counters) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		row, err := getRow(b, sessionID)
		if err != nil {
			return err
		}
		row.EndTime = &end
		row.BytesIn, row.BytesOut = c.BytesIn, c.BytesOut
		row.Active = false
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(sessionID), data)
	})
}

func (s *Store) Get(_ context.Context, sessionID string) (*session.Session, error) {
	var row *session.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		row, err = getRow(tx.Bucket(sessionsBucket), sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Store) List(_ context.Context, activeOnly bool) ([]session.Session, error) {
	var out []session.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var row session.Session
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if activeOnly && !row.Active {
				return nil
			}
			out = append(out, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

// Ping confirms the database is open and readable.
func (s *Store) Ping(context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(sessionsBucket) == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		return nil
	})
}

func getRow(b *bbolt.Bucket, sessionID string) (*session.Session, error) {
	data := b.Get([]byte(sessionID))
	if data == nil {
		return nil, fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
	}
	var row session.Session
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return &row, nil
}
