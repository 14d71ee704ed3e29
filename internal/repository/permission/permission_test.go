package permission

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/service/storage"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func sample(id, pk string) model.Permission {
	return model.Permission{
		AccountID:   id,
		SenderID:    "dapp",
		AppMetadata: model.AppMetadata{SenderID: "dapp", Name: "dApp"},
		PublicKey:   pk,
		Scopes:      []string{"sign"},
		ConnectedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
}

func exercise(t *testing.T, repo Repository) {
	ctx := context.Background()

	_, err := repo.GetByAccountID(ctx, "a1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, repo.Save(ctx, sample("a1", "pk1")))
	require.NoError(t, repo.Save(ctx, sample("a2", "pk2")))
	require.NoError(t, repo.Save(ctx, sample("a1", "pk1b")))

	p, err := repo.GetByAccountID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "pk1b", p.PublicKey)
	assert.Equal(t, "dApp", p.AppMetadata.Name)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Delete(ctx, "a1"))
	all, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a2", all[0].AccountID)
}

func TestStore(t *testing.T) {
	exercise(t, NewStore(storage.NewMemory()))
}

func TestPermissionRepo(t *testing.T) {
	uri := os.Getenv("BEACON_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("BEACON_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	db := client.Database("beacon_test_" + time.Now().Format("150405"))
	t.Cleanup(func() { db.Drop(context.Background()) })

	exercise(t, NewPermissionRepo(db))
}
