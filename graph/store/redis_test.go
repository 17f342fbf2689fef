package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/loopgraph/graph/store"
	"github.com/dshills/loopgraph/graph/store/storetest"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newMiniRedis(t)
	storetest.RunContract(t, store.NewRedisStoreFromClient(client))
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newMiniRedis(t)
	st := store.NewRedisStoreFromClient(client, store.WithPrefix("test:"))

	ctx := context.Background()
	require.NoError(t, st.SaveCheckpoint(ctx, store.Checkpoint{ID: "cp", SessionID: "s", Step: 1}))

	assert.True(t, mr.Exists("test:checkpoint:cp"))
	assert.True(t, mr.Exists("test:session:s:checkpoints"))
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := newMiniRedis(t)
	st := store.NewRedisStoreFromClient(client, store.WithTTL(time.Minute))

	ctx := context.Background()
	require.NoError(t, st.SaveCheckpoint(ctx, store.Checkpoint{ID: "cp", SessionID: "s", Step: 1}))
	require.NoError(t, st.SaveStep(ctx, "s", 1, "a", []byte(`{}`)))

	mr.FastForward(2 * time.Minute)

	_, err := st.LoadCheckpoint(ctx, "cp")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, _, err = st.LoadLatest(ctx, "s")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := st.ListCheckpoints(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisStore_ClaimOutlivesTTL(t *testing.T) {
	mr, client := newMiniRedis(t)
	st := store.NewRedisStoreFromClient(client, store.WithTTL(24*time.Hour))

	ctx := context.Background()
	require.NoError(t, st.SaveCheckpoint(ctx, store.Checkpoint{ID: "cp", SessionID: "s", Step: 1}))

	ok, err := st.Consume(ctx, "cp")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(25 * time.Hour)

	assert.True(t, mr.Exists("loopgraph:claim:cp"), "claim must not expire")
	ok, err = st.Consume(ctx, "cp")
	require.NoError(t, err)
	assert.False(t, ok, "an expired checkpoint key must not reopen the claim")

	require.NoError(t, st.Release(ctx, "cp"))
	ok, err = st.Consume(ctx, "cp")
	require.NoError(t, err)
	assert.True(t, ok)
}
