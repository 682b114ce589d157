package nodegraph

import (
	"context"
	"testing"

	"github.com/dyluth/nodegraph/internal/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCollectionBackend(t *testing.T) (*graphtest.Backend, *Client) {
	t.Helper()
	backend := graphtest.New()
	backend.SetLayer("a-1", "x", 7, map[string]any{"v": "a1"})
	backend.SetLayer("a-2", "x", 9, map[string]any{"v": "a2"})
	_, host := graphtest.Start(t, backend)
	return backend, newTestClient(host)
}

func TestCollection_FirstReadBatchesAndPins(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	_, pinned := coll.PinnedRevision()
	assert.False(t, pinned)

	data, err := coll.LayerData(ctx, "a-1", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "a1"}, data)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, BulkPath, reqs[0].Path)
	assert.JSONEq(t, `[["/a-1/data/x",{}],["/a-2/data/x",{}]]`, string(reqs[0].Body))

	rev, pinned := coll.PinnedRevision()
	assert.True(t, pinned)
	assert.Equal(t, int64(9), rev)

	data, err = coll.LayerData(ctx, "a-2", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "a2"}, data)
	data, err = coll.LayerData(ctx, "a-1", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "a1"}, data)
	assert.Len(t, backend.Requests(), 1, "both members are served from cache")
}

func TestCollection_PinAppliesAcrossLayers(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	backend.SetLayer("a-1", "y", 8, "y at 8")
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	_, err := coll.LayerData(ctx, "a-1", "x")
	require.NoError(t, err)

	// A write lands after the pin; the collection keeps reading its snapshot.
	backend.SetLayer("a-1", "y", 12, "y at 12")
	backend.ResetLog()

	data, err := coll.LayerData(ctx, "a-1", "y")
	require.NoError(t, err)
	assert.Equal(t, "y at 8", data)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `[["/a-1/data/y",{"revision":9,"historical":true}],["/a-2/data/y",{"revision":9,"historical":true}]]`, string(reqs[0].Body))

	rev, _ := coll.PinnedRevision()
	assert.Equal(t, int64(9), rev)
}

func TestCollection_ExplicitRevisions(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	backend.SetLayer("a-1", "x", 3, map[string]any{"v": "a1 at 3"})
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	t.Run("does not pin", func(t *testing.T) {
		data, err := coll.LayerDataAt(ctx, "a-1", "x", 3)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"v": "a1 at 3"}, data)
		_, pinned := coll.PinnedRevision()
		assert.False(t, pinned)
	})

	t.Run("does not move an existing pin", func(t *testing.T) {
		_, err := coll.LayerData(ctx, "a-1", "x")
		require.NoError(t, err)
		_, err = coll.LayerDataAt(ctx, "a-2", "x", 5)
		require.NoError(t, err)
		rev, _ := coll.PinnedRevision()
		assert.Equal(t, int64(9), rev)
	})

	t.Run("rejects revisions below one", func(t *testing.T) {
		backend.ResetLog()
		for _, rev := range []int64{0, -4} {
			data, err := coll.LayerDataAt(ctx, "a-1", "x", rev)
			assert.ErrorIs(t, err, ErrInvalidRevision)
			assert.Nil(t, data)
		}
		assert.Empty(t, backend.Requests())
	})

	t.Run("shares cache entries with pinned reads", func(t *testing.T) {
		backend.ResetLog()
		data, err := coll.LayerDataAt(ctx, "a-2", "x", 9)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"v": "a2"}, data)
		assert.Empty(t, backend.Requests())
	})
}

func TestCollection_OnlyFetchesMembersOfTheSameType(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	backend.SetLayer("b-1", "x", 2, "b1")
	coll := NewCollection(client, []string{"a-1", "b-1", "a-2"}, nil)

	_, err := coll.LayerData(context.Background(), "b-1", "x")
	require.NoError(t, err)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `[["/b-1/data/x",{}]]`, string(reqs[0].Body))
}

func TestCollection_ResetDropsPinAndCache(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	_, err := coll.LayerData(ctx, "a-1", "x")
	require.NoError(t, err)

	backend.SetLayer("a-1", "x", 11, map[string]any{"v": "a1 again"})
	coll.Reset()
	_, pinned := coll.PinnedRevision()
	assert.False(t, pinned)

	data, err := coll.LayerData(ctx, "a-1", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "a1 again"}, data)
	rev, _ := coll.PinnedRevision()
	assert.Equal(t, int64(11), rev)
	assert.Len(t, backend.RequestsTo(BulkPath), 2)
}

func TestCollection_ResetNodeKeepsPin(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	node, err := coll.Lookup(ctx, "a-1")
	require.NoError(t, err)
	_, err = node.LayerData(ctx, "x")
	require.NoError(t, err)

	node.Reset()
	backend.ResetLog()
	_, err = node.LayerData(ctx, "x")
	require.NoError(t, err)

	rev, pinned := coll.PinnedRevision()
	assert.True(t, pinned)
	assert.Equal(t, int64(9), rev)
	require.Len(t, backend.Requests(), 1)
}

func TestCollection_CachedDataIsCopied(t *testing.T) {
	_, client := setupCollectionBackend(t)
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	data, err := coll.LayerData(ctx, "a-1", "x")
	require.NoError(t, err)
	data.(map[string]any)["v"] = "mutated"

	again, err := coll.LayerData(ctx, "a-1", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "a1"}, again)
}

func TestCollection_NotInCollection(t *testing.T) {
	_, client := setupCollectionBackend(t)
	coll := NewCollection(client, []string{"a-1"}, nil)

	_, err := coll.LayerData(context.Background(), "a-2", "x")
	assert.ErrorIs(t, err, ErrNotInCollection)
	_, err = coll.Lookup(context.Background(), "a-2")
	assert.ErrorIs(t, err, ErrNotInCollection)
}

func TestCollection_FetchLayerData(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	backend.SetLayer("a-1", "y", 7, "y1")
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	maxRev, err := coll.FetchLayerData(ctx, "a", []string{"x", "y"}, []int64{7, 9})
	require.NoError(t, err)
	assert.Equal(t, int64(9), maxRev)
	_, pinned := coll.PinnedRevision()
	assert.False(t, pinned)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	entries, err := reqs[0].BulkEntries()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "/a-1/data/x,y", entries[0][0])

	backend.ResetLog()
	data, err := coll.LayerDataAt(ctx, "a-1", "y", 7)
	require.NoError(t, err)
	assert.Equal(t, "y1", data)
	data, err = coll.LayerDataAt(ctx, "a-2", "y", 9)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data, "missing layers cache as empty")
	assert.Empty(t, backend.Requests())
}

func TestCollection_LayerRevisions(t *testing.T) {
	backend, client := setupCollectionBackend(t)
	backend.SetLayer("a-1", "x", 3, "old")
	ctx := context.Background()
	coll := NewCollection(client, []string{"a-1", "a-2"}, nil)

	node, err := coll.At(ctx, 0)
	require.NoError(t, err)
	revs, err := node.Revisions(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"x": {3, 7}}, revs)

	revs2, err := coll.LayerRevisions(ctx, "a-2", "x")
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, revs2)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `[["/a-1/revisions/x",{}],["/a-2/revisions/x",{}]]`, string(reqs[0].Body))
}

func TestCollection_ActiveRecordLayer(t *testing.T) {
	backend := graphtest.New()
	_, host := graphtest.Start(t, backend)
	records := NewMemoryRecords()
	records.Put("person", 1, map[string]any{"name": "Ada"})
	client := newTestClient(host, WithRecords(records))
	ctx := context.Background()

	coll := NewCollection(client, []string{"person-1", "person-2"}, nil)
	data, err := coll.LayerData(ctx, "person-1", ActiveRecordLayer)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada"}, data)

	data, err = coll.LayerData(ctx, "person-2", ActiveRecordLayer)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)

	assert.Empty(t, backend.Requests())
	_, pinned := coll.PinnedRevision()
	assert.False(t, pinned, "records are not revisioned")
}

func TestCollection_Listing(t *testing.T) {
	backend := graphtest.New()
	backend.SetFixture("/people", map[string]any{
		"node_ids": []any{"person-2", "person-1", "person-2"},
		"meta":     map[string]any{"person-1": map[string]any{"weight": 1}},
		"count":    10,
	})
	_, host := graphtest.Start(t, backend)
	client := newTestClient(host)
	ctx := context.Background()

	coll := NewListing(client, "/people", Params{"limit": 2}, nil)
	assert.Empty(t, backend.Requests(), "listings resolve lazily")

	ids, err := coll.NodeIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"person-2", "person-1"}, ids)

	n, err := coll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	ok, err := coll.Include(ctx, "person-1")
	require.NoError(t, err)
	assert.True(t, ok)

	edge, err := coll.Edge(ctx, "person-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"weight": float64(1)}, edge)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "2", reqs[0].Query.Get("limit"))

	t.Run("assoc merges params", func(t *testing.T) {
		derived, err := coll.Assoc(Params{"offset": 2})
		require.NoError(t, err)
		_, err = derived.NodeIDs(ctx)
		require.NoError(t, err)
		last := backend.Requests()[len(backend.Requests())-1]
		assert.Equal(t, "2", last.Query.Get("limit"))
		assert.Equal(t, "2", last.Query.Get("offset"))
	})

	t.Run("assoc on explicit ids fails", func(t *testing.T) {
		_, err := NewCollection(client, []string{"a-1"}, nil).Assoc(Params{"x": 1})
		assert.ErrorIs(t, err, ErrExplicitCollection)
	})
}

func TestCollection_EdgeListings(t *testing.T) {
	backend := graphtest.New()
	backend.SetFixture("/person-1/edges/friends", map[string]any{
		"friends": map[string]any{"edges": map[string]any{
			"person-3": map[string]any{"since": 2001},
			"person-2": map[string]any{"since": 1999},
		}},
	})
	backend.SetFixture("/person-1/incoming/friends", map[string]any{
		"friends": map[string]any{"incoming": []any{"person-5", "person-4"}},
	})
	_, host := graphtest.Start(t, backend)
	client := newTestClient(host)
	ctx := context.Background()

	out := NewListing(client, "/person-1/edges/friends", nil, EdgesListing("friends"))
	nodes, err := out.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "person-2", nodes[0].ID)
	assert.Equal(t, "person", nodes[0].Type())
	edge, err := nodes[1].Edge(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"since": float64(2001)}, edge)

	in := NewListing(client, "/person-1/incoming/friends", nil, IncomingListing("friends"))
	ids, err := in.NodeIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"person-5", "person-4"}, ids)
}

func TestCollection_SetOperations(t *testing.T) {
	_, client := setupCollectionBackend(t)
	ctx := context.Background()
	left := NewCollection(client, []string{"a-1", "a-2"}, map[string]any{"a-2": "left"})
	right := NewCollection(client, []string{"a-2", "a-3"}, map[string]any{"a-2": "right", "a-3": "right"})

	union, err := left.Union(ctx, right)
	require.NoError(t, err)
	ids, _ := union.NodeIDs(ctx)
	assert.Equal(t, []string{"a-1", "a-2", "a-3"}, ids)
	edge, _ := union.Edge(ctx, "a-2")
	assert.Equal(t, "left", edge)
	edge, _ = union.Edge(ctx, "a-3")
	assert.Equal(t, "right", edge)

	diff, err := left.Difference(ctx, right)
	require.NoError(t, err)
	ids, _ = diff.NodeIDs(ctx)
	assert.Equal(t, []string{"a-1"}, ids)

	inter, err := left.Intersect(ctx, right)
	require.NoError(t, err)
	ids, _ = inter.NodeIDs(ctx)
	assert.Equal(t, []string{"a-2"}, ids)
	edge, _ = inter.Edge(ctx, "a-2")
	assert.Equal(t, "left", edge)
}
