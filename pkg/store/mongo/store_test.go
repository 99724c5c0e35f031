package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/store/storetest"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

// the suite needs a real server, e.g. ELECTOR_MONGO_URI=mongodb://localhost:27017
func connect(t *testing.T) *mongo.Client {
	t.Helper()

	uri := os.Getenv("ELECTOR_MONGO_URI")
	if uri == "" {
		t.Skip("ELECTOR_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	t.Cleanup(func() {
		client.Disconnect(context.Background())
	})
	return client
}

func TestMongo(t *testing.T) {
	client := connect(t)
	db := fmt.Sprintf("elector_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Database(db).Drop(context.Background())
	})

	n := 0
	storetest.Run(t, func(t *testing.T) store.Store {
		n++
		return New(client, db, fmt.Sprintf("locks_%d", n))
	})
}

func TestBSONConversion(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &types.Lease{Name: "x", Owner: "a", Expiry: expiry, Version: 9}

	doc := toBSON(l)
	assert.Equal(t, "x", doc.Name)
	assert.Equal(t, int64(9), doc.Version)

	back := fromBSON(doc)
	assert.Equal(t, l, back)
}

func TestDefaults(t *testing.T) {
	client, err := mongo.NewClient(options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)

	s := New(client, "", "")
	assert.Equal(t, DefaultCollection, s.collection.Name())
	assert.Equal(t, DefaultDatabase, s.collection.Database().Name())
}
