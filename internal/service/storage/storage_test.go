package storage

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/service/redis"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	_, err := s.Get(ctx, KeyRelayServer)
	assert.ErrorIs(t, err, model.ErrNotFound)

	var missing []string
	ok, err := GetJSON(ctx, s, KeyPeers, &missing)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, KeyRooms.For("node-a"), []string{"!r1", "!r2"}))
	var rooms []string
	ok, err = GetJSON(ctx, s, KeyRooms.For("node-a"), &rooms)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"!r1", "!r2"}, rooms)

	ok, err = GetJSON(ctx, s, KeyRooms.For("node-b"), &rooms)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, KeyRooms.For("node-a")))
	_, err = s.Get(ctx, KeyRooms.For("node-a"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemory())
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("BEACON_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BEACON_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc, err := redis.Dial(ctx, config.StorageConfig{RedisAddr: addr, KeyPrefix: "beacon-test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	defer svc.Close()

	exerciseStorage(t, NewRedis(svc))
}

func TestFileSecureSeed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := NewFileSecure(dir, "hunter2")
	require.NoError(t, err)

	seed, err := LoadOrCreateSeed(ctx, fs)
	require.NoError(t, err)
	assert.Len(t, seed, 32)

	again, err := LoadOrCreateSeed(ctx, fs)
	require.NoError(t, err)
	assert.Equal(t, seed, again)

	wrong, err := NewFileSecure(dir, "not-the-passphrase")
	require.NoError(t, err)
	_, err = wrong.GetSecret(ctx, seedName)
	assert.Error(t, err)

	_, err = NewFileSecure(dir, "")
	assert.Error(t, err)
}

func TestMemorySecureSeed(t *testing.T) {
	m := NewMemory()
	seed, err := LoadOrCreateSeed(context.Background(), m)
	require.NoError(t, err)
	again, err := LoadOrCreateSeed(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, seed, again)
}
