//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/faucetgw/faucetgw/internal/store"
	"github.com/faucetgw/faucetgw/internal/store/storetest"
)

// TestConformance runs the shared backend suite against a live mongod.
// Set FAUCET_TEST_MONGO_URI, e.g. mongodb://localhost:27017
func TestConformance(t *testing.T) {
	uri := os.Getenv("FAUCET_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("FAUCET_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	s := New(client, "faucet_test", 30*time.Second)
	require.NoError(t, s.EnsureIndexes(ctx))

	storetest.Run(t, func(t *testing.T) store.Store {
		drop(t, s)
		return s
	})

	fast := New(client, "faucet_test", 50*time.Millisecond)
	storetest.RunReclaim(t, 50*time.Millisecond, func(t *testing.T) store.Store {
		drop(t, fast)
		return fast
	})
}

func drop(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []string{"users", "mint_requests", "quotas", "mint_failures", "system_config"} {
		_, err := s.db.Collection(c).DeleteMany(ctx, bson.M{})
		require.NoError(t, err)
	}
}
