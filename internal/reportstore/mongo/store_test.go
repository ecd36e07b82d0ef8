package mongo_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/MrWong99/poise/internal/reportstore"
	"github.com/MrWong99/poise/internal/reportstore/mongo"
	"github.com/MrWong99/poise/internal/reportstore/storetest"
)

// testURI returns the MongoDB URI from the environment, or skips the test if
// POISE_TEST_MONGO_URI is not set.
func testURI(t *testing.T) string {
	t.Helper()
	uri := os.Getenv("POISE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("POISE_TEST_MONGO_URI not set; skipping MongoDB integration tests")
	}
	return uri
}

// newTestStore returns a store on a database private to t, dropped on cleanup.
func newTestStore(t *testing.T) *mongo.Store {
	t.Helper()
	uri := testURI(t)
	ctx := context.Background()

	db := "poise_test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	if len(db) > 60 {
		db = db[:60]
	}
	s, err := mongo.NewStore(ctx, uri, db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.DropDatabase(ctx); err != nil {
			t.Logf("drop %s: %v", db, err)
		}
		_ = s.Close(ctx)
	})
	return s
}

func TestStore_Conformance(t *testing.T) {
	testURI(t)
	storetest.Run(t, func(t *testing.T) reportstore.Store { return newTestStore(t) })
}
