// Package redis implements [reportstore.Store] on Redis.
//
// Each record is a JSON string under "<prefix>report:<session id>". A sorted
// set "<prefix>reports" scored by stop time keeps the listing order.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/poise/internal/reportstore"
)

var _ reportstore.Store = (*Store)(nil)

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "poise:"

// Option configures a [Store].
type Option func(*Store)

// WithPrefix overrides [DefaultPrefix].
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithTTL expires records after d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// Store is a Redis-backed [reportstore.Store].
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore connects to the redis:// URL and verifies the connection.
func NewStore(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Ping implements [reportstore.Store].
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) key(id string) string { return s.prefix + "report:" + id }
func (s *Store) index() string        { return s.prefix + "reports" }

// Save implements [reportstore.Store].
func (s *Store) Save(ctx context.Context, rec reportstore.Record) error {
	if rec.SessionID == "" {
		return errors.New("redis store: save: empty session id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis store: save: marshal: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(rec.SessionID), data, s.ttl)
		p.ZAdd(ctx, s.index(), redis.Z{
			Score:  float64(rec.StoppedAt.UnixMilli()),
			Member: rec.SessionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: save %q: %w", rec.SessionID, err)
	}
	return nil
}

// Get implements [reportstore.Store].
func (s *Store) Get(ctx context.Context, sessionID string) (reportstore.Record, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return reportstore.Record{}, fmt.Errorf("redis store: get %q: %w", sessionID, reportstore.ErrNotFound)
	}
	if err != nil {
		return reportstore.Record{}, fmt.Errorf("redis store: get %q: %w", sessionID, err)
	}
	var rec reportstore.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return reportstore.Record{}, fmt.Errorf("redis store: get %q: decode: %w", sessionID, err)
	}
	return rec, nil
}

// List implements [reportstore.Store]. Index entries whose record expired are
// skipped and pruned.
func (s *Store) List(ctx context.Context, limit int) ([]reportstore.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.index(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list: %w", err)
	}

	recs := make([]reportstore.Record, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec reportstore.Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("redis store: list: decode %q: %w", ids[i], err)
		}
		recs = append(recs, rec)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.index(), stale...)
	}
	return recs, nil
}
