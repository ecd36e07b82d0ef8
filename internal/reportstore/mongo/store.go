// Package mongo implements [reportstore.Store] on a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MrWong99/poise/internal/feedback"
	"github.com/MrWong99/poise/internal/report"
	"github.com/MrWong99/poise/internal/reportstore"
)

var _ reportstore.Store = (*Store)(nil)

// DefaultCollection holds one document per session.
const DefaultCollection = "session_reports"

// document is the stored shape of a [reportstore.Record]. The session id is
// the primary key so Save can upsert on it.
type document struct {
	SessionID  string         `bson:"_id"`
	StartedAt  time.Time      `bson:"started_at"`
	StoppedAt  time.Time      `bson:"stopped_at"`
	Goals      feedback.Goals `bson:"goals"`
	Report     report.Report  `bson:"report"`
	Transcript string         `bson:"transcript,omitempty"`
}

func toDocument(rec reportstore.Record) document {
	return document{
		SessionID:  rec.SessionID,
		StartedAt:  rec.StartedAt,
		StoppedAt:  rec.StoppedAt,
		Goals:      rec.Goals,
		Report:     rec.Report,
		Transcript: rec.Transcript,
	}
}

func (d document) record() reportstore.Record {
	return reportstore.Record{
		SessionID:  d.SessionID,
		StartedAt:  d.StartedAt.UTC(),
		StoppedAt:  d.StoppedAt.UTC(),
		Goals:      d.Goals,
		Report:     d.Report,
		Transcript: d.Transcript,
	}
}

// Store is a MongoDB-backed [reportstore.Store].
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	owned  bool
}

// NewStore connects to uri, selects database and ensures the listing index
// exists. The returned store owns the client and disconnects it on Close.
func NewStore(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo store: ping: %w", err)
	}
	s, err := New(ctx, client.Database(database))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses an existing database handle. Close does not disconnect its client.
func New(ctx context.Context, db *mongo.Database) (*Store, error) {
	coll := db.Collection(DefaultCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "stopped_at", Value: -1}},
		Options: options.Index().SetName("stopped_at_desc"),
	})
	if err != nil {
		return nil, fmt.Errorf("mongo store: create index: %w", err)
	}
	return &Store{client: db.Client(), coll: coll}, nil
}

// Close disconnects the client if the store created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping implements [reportstore.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Save implements [reportstore.Store].
func (s *Store) Save(ctx context.Context, rec reportstore.Record) error {
	if rec.SessionID == "" {
		return errors.New("mongo store: save: empty session id")
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.SessionID}, toDocument(rec), opts); err != nil {
		return fmt.Errorf("mongo store: save %q: %w", rec.SessionID, err)
	}
	return nil
}

// Get implements [reportstore.Store].
func (s *Store) Get(ctx context.Context, sessionID string) (reportstore.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return reportstore.Record{}, fmt.Errorf("mongo store: get %q: %w", sessionID, reportstore.ErrNotFound)
	}
	if err != nil {
		return reportstore.Record{}, fmt.Errorf("mongo store: get %q: %w", sessionID, err)
	}
	return doc.record(), nil
}

// List implements [reportstore.Store].
func (s *Store) List(ctx context.Context, limit int) ([]reportstore.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "stopped_at", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo store: list: %w", err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo store: list: %w", err)
	}
	recs := make([]reportstore.Record, len(docs))
	for i, d := range docs {
		recs[i] = d.record()
	}
	return recs, nil
}
