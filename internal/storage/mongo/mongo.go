// Package mongo implements session.Repository on a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nashmick001/mikrotik-portal/internal/session"
)

const (
	defaultTimeout     = 10 * time.Second
	collectionSessions = "sessions"
	collectionCounters = "counters"
)

// Config captures the minimal settings required to establish a MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Connect establishes a MongoDB client, verifies connectivity with a ping, and
// returns both the client and the selected database. A default timeout is
// applied when none is provided.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}

// Repository stores one document per session. Surrogate ids come from a
// counter document incremented atomically.
type Repository struct {
	db       *mongo.Database
	col      *mongo.Collection
	counters *mongo.Collection
}

var _ session.Repository = (*Repository)(nil)

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		db:       db,
		col:      db.Collection(collectionSessions),
		counters: db.Collection(collectionCounters),
	}
}

// NewRepositoryFromURI connects, ensures indexes and returns a Repository
// that disconnects the client on Close.
func NewRepositoryFromURI(ctx context.Context, cfg Config) (*Repository, error) {
	_, db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r := NewRepository(db)
	if err := r.EnsureIndexes(ctx); err != nil {
		_ = db.Client().Disconnect(ctx)
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return r, nil
}

// EnsureIndexes creates the unique session id index and the active index.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "active", Value: 1}}},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}

func (r *Repository) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": collectionSessions},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Seq, err
}

func (r *Repository) Create(ctx context.Context, s *session.Session) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := r.col.FindOne(ctx, bson.M{"session_id": s.SessionID}).Err()
	if err == nil {
		return fmt.Errorf("%s: %w", s.SessionID, session.ErrDuplicate)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}

	id, err := r.nextID(ctx)
	if err != nil {
		return fmt.Errorf("allocate session id: %w", err)
	}
	s.ID = id

	doc := *s
	c := session.Counters{BytesIn: s.BytesIn, BytesOut: s.BytesOut}.Clamp()
	doc.BytesIn, doc.BytesOut = c.BytesIn, c.BytesOut
	if _, err := r.col.InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", s.SessionID, session.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (r *Repository) Finalize(ctx context.Context, sessionID string, end time.Time, c session.Counters) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"end_time":  end,
			"bytes_in":  session.StoredCounter(c.BytesIn),
			"bytes_out": session.StoredCounter(c.BytesOut),
			"active":    false,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var s session.Session
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", sessionID, session.ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repository) List(ctx context.Context, activeOnly bool) ([]session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}, {Key: "id", Value: 1}})

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []session.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

func (r *Repository) Close(ctx context.Context) error {
	return r.db.Client().Disconnect(ctx)
}
