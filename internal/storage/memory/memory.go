// Package memory provides a thread-safe in-memory session.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nashmick001/mikrotik-portal/internal/session"
)

// Repository is a thread-safe in-memory implementation of session.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[string]*session.Session
}

var _ session.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{rows: make(map[string]*session.Session)}
}

func clone(s *session.Session) *session.Session {
	c := *s
	if s.UpdateTime != nil {
		t := *s.UpdateTime
		c.UpdateTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}

func (r *Repository) Create(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.SessionID]; ok {
		return fmt.Errorf("%s: %w", s.SessionID, session.ErrDuplicate)
	}
	r.nextID++
	s.ID = r.nextID
	r.rows[s.SessionID] = clone(s)
	return nil
}

func (r *Repository) Finalize(_ context.Context, sessionID string, end time.Time, c session.Counters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[sessionID]
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
	}
	row.EndTime = &end
	row.BytesIn, row.BytesOut = c.BytesIn, c.BytesOut
	row.Active = false
	return nil
}

func (r *Repository) Get(_ context.Context, sessionID string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
	}
	return clone(row), nil
}

func (r *Repository) List(_ context.Context, activeOnly bool) ([]session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.Session, 0, len(r.rows))
	for _, row := range r.rows {
		if activeOnly && !row.Active {
			continue
		}
		out = append(out, *clone(row))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (r *Repository) Ping(context.Context) error  { return nil }
func (r *Repository) Close(context.Context) error { return nil }
