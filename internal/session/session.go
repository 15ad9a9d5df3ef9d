// Package session reconciles the live session cache with the durable
// session table. The accounting responder is the only writer.
package session

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a session id.
	ErrNotFound = errors.New("session: not found")
	// ErrDuplicate is returned by Repository.Create when a row for the
	// session id already exists.
	ErrDuplicate = errors.New("session: already exists")
)

// Session is one network session as reported by the NAS.
type Session struct {
	ID         int64      `json:"id" bson:"id"`
	SessionID  string     `json:"sessionId" bson:"session_id"`
	MAC        string     `json:"mac" bson:"mac"`
	IP         string     `json:"ip" bson:"ip"`
	Username   string     `json:"username" bson:"username"`
	StartTime  time.Time  `json:"startTime" bson:"start_time"`
	UpdateTime *time.Time `json:"updateTime,omitempty" bson:"update_time,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty" bson:"end_time,omitempty"`
	BytesIn    uint64     `json:"bytesIn" bson:"bytes_in"`
	BytesOut   uint64     `json:"bytesOut" bson:"bytes_out"`
	Active     bool       `json:"active" bson:"active"`
}

// Counters are the final byte counts written when a session closes.
type Counters struct {
	BytesIn  uint64
	BytesOut uint64
}

// StoredCounter converts a byte counter for the signed 64-bit columns of
// the durable stores, saturating at math.MaxInt64.
func StoredCounter(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// Clamp returns c with both counters saturated at math.MaxInt64.
func (c Counters) Clamp() Counters {
	return Counters{
		BytesIn:  uint64(StoredCounter(c.BytesIn)),
		BytesOut: uint64(StoredCounter(c.BytesOut)),
	}
}

// Repository is the durable session table.
type Repository interface {
	// Create inserts s and sets s.ID. It returns ErrDuplicate, leaving the
	// stored row untouched, when s.SessionID already has a row.
	Create(ctx context.Context, s *Session) error
	// Finalize closes the row for sessionID. It returns ErrNotFound when
	// there is no such row.
	Finalize(ctx context.Context, sessionID string, end time.Time, c Counters) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	// List returns sessions ordered by start time, only active ones when
	// activeOnly is set.
	List(ctx context.Context, activeOnly bool) ([]Session, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Report is what one Accounting-Request says about a session. Nil counters
// mean the request did not carry the attribute.
type Report struct {
	SessionID string
	Username  string
	IP        string
	BytesIn   *uint64
	BytesOut  *uint64
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// MACFromUsername returns the lowercased hardware address when userName is
// one, and userName itself as a placeholder otherwise.
func MACFromUsername(userName string) string {
	if macPattern.MatchString(userName) {
		return strings.ToLower(userName)
	}
	return userName
}
