package records

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/nodegraph/internal/graphtest"
	"github.com/dyluth/nodegraph/pkg/nodegraph"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a store connected to a miniredis instance
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestNewStore(t *testing.T) {
	t.Run("creates store successfully", func(t *testing.T) {
		store, _ := setupTestStore(t)
		assert.NoError(t, store.Ping(context.Background()))
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewStore(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})

	t.Run("from url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := NewStoreFromURL("redis://"+mr.Addr(), "test")
		require.NoError(t, err)
		defer store.Close()
		assert.NoError(t, store.Ping(context.Background()))

		_, err = NewStoreFromURL("not a url", "test")
		assert.Error(t, err)
	})
}

func TestStore_PutGet(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	fields := map[string]any{"name": "Ada", "age": float64(36), "tags": []any{"math"}}
	require.NoError(t, store.Put(ctx, "person", 1, fields))

	got, err := store.Get(ctx, "person", 1)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
	assert.True(t, mr.Exists("nodegraph:test:record:person:1"))

	t.Run("put replaces every field", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "person", 1, map[string]any{"name": "Grace"}))
		got, err := store.Get(ctx, "person", 1)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "Grace"}, got)
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := store.Get(ctx, "person", 99)
		assert.True(t, IsNotFound(err))
	})

	t.Run("empty type rejected", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, "", 1, nil))
	})
}

func TestStore_FindRecords(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "person", 1, map[string]any{"name": "Ada"}))
	require.NoError(t, store.Put(ctx, "person", 3, map[string]any{"name": "Alan"}))
	require.NoError(t, store.Put(ctx, "animal", 2, map[string]any{"name": "Rex"}))

	found, err := store.FindRecords(ctx, "person", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]map[string]any{
		1: {"name": "Ada"},
		3: {"name": "Alan"},
	}, found)

	empty, err := store.FindRecords(ctx, "person", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_NumbersAndDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	for _, n := range []int64{10, 2, 7} {
		require.NoError(t, store.Put(ctx, "person", n, map[string]any{"n": n}))
	}

	numbers, err := store.Numbers(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 7, 10}, numbers)

	require.NoError(t, store.Delete(ctx, "person", 7))
	require.NoError(t, store.Delete(ctx, "person", 7), "deleting twice is fine")

	numbers, err = store.Numbers(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 10}, numbers)
	_, err = store.Get(ctx, "person", 7)
	assert.True(t, IsNotFound(err))
}

func TestStore_ServesActiveRecordLayer(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "person", 1, map[string]any{"name": "Ada"}))

	backend := graphtest.New()
	_, host := graphtest.Start(t, backend)
	client := nodegraph.New(
		nodegraph.WithRouter(nodegraph.NewRouter(nodegraph.WithDefaultHost(host))),
		nodegraph.WithRecords(store),
	)

	coll := nodegraph.NewCollection(client, []string{"person-1", "person-2"}, nil)
	data, err := coll.LayerData(ctx, "person-1", nodegraph.ActiveRecordLayer)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada"}, data)

	data, err = coll.LayerData(ctx, "person-2", nodegraph.ActiveRecordLayer)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)
	assert.Empty(t, backend.Requests())
}
