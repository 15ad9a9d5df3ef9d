// Package postgres implements session.Repository backed by PostgreSQL.
//
// session_id carries a unique index so a retransmitted Start cannot create a
// second row. Byte counters are BIGINT columns.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nashmick001/mikrotik-portal/internal/session"
)

const selectColumns = `id, mac, ip, username, COALESCE(session_id, ''), start_time,
	update_time, end_time, bytes_in, bytes_out, active`

// Store implements session.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ session.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (mac, ip, username, session_id, start_time, update_time, end_time, bytes_in, bytes_out, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO NOTHING
		 RETURNING id`,
		sess.MAC, sess.IP, sess.Username, sess.SessionID, sess.StartTime,
		sess.UpdateTime, sess.EndTime, session.StoredCounter(sess.BytesIn), session.StoredCounter(sess.BytesOut), sess.Active,
	).Scan(&sess.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", sess.SessionID, session.ErrDuplicate)
	}
	return err
}

func (s *Store) Finalize(ctx context.Context, sessionID string, end time.Time, c session.Counters) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET end_time = $2, bytes_in = $3, bytes_out = $4, active = FALSE
		 WHERE session_id = $1`,
		sessionID, end, session.StoredCounter(c.BytesIn), session.StoredCounter(c.BytesOut))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) List(ctx context.Context, activeOnly bool) ([]session.Session, error) {
	query := `SELECT ` + selectColumns + ` FROM sessions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY start_time, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		sess              session.Session
		bytesIn, bytesOut int64
	)
	err := row.Scan(&sess.ID, &sess.MAC, &sess.IP, &sess.Username, &sess.SessionID,
		&sess.StartTime, &sess.UpdateTime, &sess.EndTime, &bytesIn, &bytesOut, &sess.Active)
	if err != nil {
		return nil, err
	}
	sess.BytesIn, sess.BytesOut = uint64(bytesIn), uint64(bytesOut)
	return &sess, nil
}
