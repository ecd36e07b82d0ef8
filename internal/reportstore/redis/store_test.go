package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/poise/internal/reportstore"
	"github.com/MrWong99/poise/internal/reportstore/redis"
	"github.com/MrWong99/poise/internal/reportstore/storetest"
)

// testURL returns the Redis URL from the environment, or skips the test if
// POISE_TEST_REDIS_URL is not set.
func testURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("POISE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("POISE_TEST_REDIS_URL not set; skipping Redis integration tests")
	}
	return url
}

// newTestStore returns a store whose keys live under a prefix unique to t.
// All keys under the prefix are removed when the test finishes.
func newTestStore(t *testing.T, opts ...redis.Option) *redis.Store {
	t.Helper()
	url := testURL(t)
	ctx := context.Background()

	prefix := "poise-test:" + t.Name() + ":"
	s, err := redis.NewStore(ctx, url, append([]redis.Option{redis.WithPrefix(prefix)}, opts...)...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		purge(t, url, prefix)
		_ = s.Close()
	})
	return s
}

func purge(t *testing.T, url, prefix string) {
	t.Helper()
	ro, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := goredis.NewClient(ro)
	defer client.Close()

	ctx := context.Background()
	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		t.Logf("purge %s: %v", prefix, err)
	}
}

func TestStore_Conformance(t *testing.T) {
	testURL(t)
	storetest.Run(t, func(t *testing.T) reportstore.Store { return newTestStore(t) })
}

func TestStore_ListSkipsExpired(t *testing.T) {
	s := newTestStore(t, redis.WithTTL(50*time.Millisecond))
	ctx := context.Background()

	if err := s.Save(ctx, storetest.SampleRecord("short", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	got, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List returned expired records: %v", storetest.IDs(got))
	}
}

func TestNewStore_BadURL(t *testing.T) {
	t.Parallel()
	if _, err := redis.NewStore(context.Background(), "not a url"); err == nil {
		t.Error("NewStore accepted a malformed url")
	}
}
