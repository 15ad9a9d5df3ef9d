package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.llib.dev/testcase/clock"

	"github.com/nashmick001/mikrotik-portal/internal/metrics"
	"github.com/nashmick001/mikrotik-portal/pkg/stream"
)

// AllSessionsStream receives every lifecycle event; per-client events also go
// to UpdatesStream(mac).
const AllSessionsStream = "radius:sessions"

// UpdatesStream returns the per-client event stream key.
func UpdatesStream(mac string) string {
	return "radius:updates:" + mac
}

// Manager applies accounting events to the cache and the durable table.
// Callers must serialize calls per session id.
//
// The two stores are written independently. A failure in one is logged,
// counted and returned joined with any other failure, but never prevents
// the other write.
type Manager struct {
	cache  *Cache
	repo   Repository
	events stream.Stream
	log    zerolog.Logger
}

// NewManager wires a Manager. events may be nil to disable publishing.
func NewManager(cache *Cache, repo Repository, events stream.Stream, log zerolog.Logger) *Manager {
	return &Manager{
		cache:  cache,
		repo:   repo,
		events: events,
		log:    log.With().Str("component", "session").Logger(),
	}
}

func (m *Manager) fromReport(r Report) *Session {
	return &Session{
		SessionID: r.SessionID,
		Username:  r.Username,
		MAC:       MACFromUsername(r.Username),
		IP:        r.IP,
	}
}

// Start opens a session in both stores. A repeated Start for a session id
// that already has a durable row does not create a second one, does not
// reset live counters and never reopens a closed session.
func (m *Manager) Start(ctx context.Context, r Report) (*Session, error) {
	s := m.fromReport(r)
	s.StartTime = clock.Now().UTC()
	s.Active = true

	var errs []error
	writeCache := true
	if err := m.repo.Create(ctx, s); err != nil {
		if errors.Is(err, ErrDuplicate) {
			row, done := m.duplicateStart(ctx, s)
			if done {
				return row, nil
			}
			writeCache = row == nil
		} else {
			errs = append(errs, m.storeError("durable", "start", err))
		}
	}
	if writeCache {
		if err := m.cache.Start(ctx, s); err != nil {
			errs = append(errs, m.storeError("cache", "start", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		m.publish(ctx, s, stream.EventError, fmt.Sprintf("Error handling session start: %v", err))
	}
	m.publish(ctx, s, stream.EventStart, fmt.Sprintf("Session started for %s (%s)", s.Username, s.MAC))
	return s, err
}

// duplicateStart handles a Start whose durable row already exists. done
// reports that the session is closed and the Start must be ignored. A
// non-nil live record means the cache already tracks the session.
func (m *Manager) duplicateStart(ctx context.Context, s *Session) (live *Session, done bool) {
	log := m.log.With().Str("session_id", s.SessionID).Logger()

	row, err := m.repo.Get(ctx, s.SessionID)
	if err == nil && !row.Active {
		log.Warn().Msg("start for closed session ignored")
		return row, true
	}
	if err == nil {
		s.ID, s.StartTime = row.ID, row.StartTime
	}

	cached, err := m.cache.Get(ctx, s.SessionID)
	if err != nil {
		log.Debug().Msg("duplicate start, durable row kept, live record rewritten")
		return nil, false
	}
	log.Debug().Msg("duplicate start, live record kept")
	return cached, false
}

// Update overwrites the live counters. The durable table is only read, to
// avoid reviving a session that is already closed.
func (m *Manager) Update(ctx context.Context, r Report) (*Session, error) {
	now := clock.Now().UTC()
	in, out := valueOr(r.BytesIn, 0), valueOr(r.BytesOut, 0)

	var errs []error
	cached, err := m.cache.Get(ctx, r.SessionID)
	switch {
	case err == nil:
		cached.BytesIn, cached.BytesOut, cached.UpdateTime = in, out, &now
		if err := m.cache.Update(ctx, r.SessionID, in, out, now); err != nil {
			errs = append(errs, m.storeError("cache", "update", err))
		}
	case errors.Is(err, ErrNotFound):
		if row, rerr := m.repo.Get(ctx, r.SessionID); rerr == nil && !row.Active {
			m.log.Warn().Str("session_id", r.SessionID).Msg("interim update for closed session ignored")
			return row, nil
		}
		cached = m.fromReport(r)
		cached.BytesIn, cached.BytesOut, cached.UpdateTime = in, out, &now
		cached.Active = true
		m.log.Debug().Str("session_id", r.SessionID).Msg("interim update without start, tracking")
		if err := m.cache.Track(ctx, cached); err != nil {
			errs = append(errs, m.storeError("cache", "update", err))
		}
	default:
		errs = append(errs, m.storeError("cache", "update", err))
		cached = m.fromReport(r)
		cached.BytesIn, cached.BytesOut, cached.UpdateTime = in, out, &now
		cached.Active = true
		if err := m.cache.Update(ctx, r.SessionID, in, out, now); err != nil {
			errs = append(errs, m.storeError("cache", "update", err))
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		m.publish(ctx, cached, stream.EventError, fmt.Sprintf("Error handling session update: %v", err))
	}
	m.publish(ctx, cached, stream.EventUpdate, fmt.Sprintf("Session update for %s (%s): IN=%d, OUT=%d",
		cached.Username, cached.MAC, in, out))
	return cached, err
}

// Stop writes the final counters to the durable table and drops the live
// record. Counters the request omits fall back to the live record. Without
// a durable row a closed row is inserted from what is known.
func (m *Manager) Stop(ctx context.Context, r Report) (*Session, error) {
	now := clock.Now().UTC()
	s := m.fromReport(r)

	var errs []error
	cached, err := m.cache.Get(ctx, r.SessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, m.storeError("cache", "stop", err))
		}
		cached = nil
	}
	if cached == nil {
		// a retransmitted Stop must not overwrite the final counters
		if row, rerr := m.repo.Get(ctx, r.SessionID); rerr == nil && !row.Active {
			m.log.Warn().Str("session_id", r.SessionID).Msg("stop for closed session ignored")
			return row, errors.Join(errs...)
		}
	}

	var fallbackIn, fallbackOut uint64
	s.StartTime = now
	if cached != nil {
		fallbackIn, fallbackOut = cached.BytesIn, cached.BytesOut
		if !cached.StartTime.IsZero() {
			s.StartTime = cached.StartTime
		}
		if s.IP == "" {
			s.IP = cached.IP
		}
		s.UpdateTime = cached.UpdateTime
	}
	final := Counters{
		BytesIn:  valueOr(r.BytesIn, fallbackIn),
		BytesOut: valueOr(r.BytesOut, fallbackOut),
	}.Clamp()
	s.BytesIn, s.BytesOut = final.BytesIn, final.BytesOut
	s.EndTime = &now
	s.Active = false

	durableOK := true
	err = m.repo.Finalize(ctx, r.SessionID, now, final)
	if errors.Is(err, ErrNotFound) {
		m.log.Warn().Str("session_id", r.SessionID).Msg("stop without durable row, inserting closed session")
		err = m.repo.Create(ctx, s)
		if errors.Is(err, ErrDuplicate) {
			err = m.repo.Finalize(ctx, r.SessionID, now, final)
		}
	}
	if err != nil {
		durableOK = false
		errs = append(errs, m.storeError("durable", "stop", err))
	}

	// The live record is the only copy of the counters until the durable
	// write succeeds; it expires on its own otherwise.
	if durableOK {
		if err := m.cache.Delete(ctx, r.SessionID); err != nil {
			errs = append(errs, m.storeError("cache", "stop", err))
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		m.publish(ctx, s, stream.EventError, fmt.Sprintf("Error handling session stop: %v", err))
	}
	m.publish(ctx, s, stream.EventStop, fmt.Sprintf("Session ended for %s (%s)", s.Username, s.MAC))
	return s, err
}

// Get returns the live view of a session when it is cached, the durable row
// otherwise.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.cache.Get(ctx, sessionID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("cache read failed, using durable store")
	}
	return m.repo.Get(ctx, sessionID)
}

// List returns durable sessions, only the active ones when activeOnly is set.
func (m *Manager) List(ctx context.Context, activeOnly bool) ([]Session, error) {
	return m.repo.List(ctx, activeOnly)
}

func (m *Manager) storeError(store, op string, err error) error {
	metrics.StoreErrorsTotal.WithLabelValues(store, op).Inc()
	return fmt.Errorf("%s %s: %w", store, op, err)
}

func (m *Manager) publish(ctx context.Context, s *Session, event, text string) {
	if m.events == nil {
		return
	}
	msg := stream.StreamMessage{
		Key:       CacheKey(s.SessionID),
		SessionID: s.SessionID,
		Username:  s.Username,
		MAC:       s.MAC,
		Event:     event,
		Text:      text,
	}
	for _, key := range []string{UpdatesStream(s.MAC), AllSessionsStream} {
		if err := m.events.Push(ctx, key, msg); err != nil {
			m.log.Warn().Err(err).
				Str("stream", key).
				Str("session_id", s.SessionID).
				Msg("failed to publish session event")
		}
	}
}

func valueOr(v *uint64, fallback uint64) uint64 {
	if v == nil {
		return fallback
	}
	return *v
}
