package recordview

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/nodegraph/pkg/records"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *records.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := records.NewStore(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "person", 3, map[string]any{"name": "Grace", "team": "navy"}))
	require.NoError(t, store.Put(ctx, "person", 1, map[string]any{"name": "Ada", "team": "engine"}))
	require.NoError(t, store.Put(ctx, "person", 2, map[string]any{"name": "Alan", "team": "bletchley"}))
	require.NoError(t, store.Put(ctx, "place", 1, map[string]any{"name": "London"}))
	return store
}

func TestListRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("empty type - default format", func(t *testing.T) {
		store := setupStore(t)
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, store, "planet", OutputFormatDefault, nil, &buf))
		assert.Contains(t, buf.String(), "No planet records found")
	})

	t.Run("table is ordered by number", func(t *testing.T) {
		store := setupStore(t)
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, store, "person", OutputFormatDefault, nil, &buf))

		output := buf.String()
		assert.Contains(t, output, "Records for type 'person'")
		assert.Contains(t, output, "3 records found")
		ada := strings.Index(output, "person-1")
		alan := strings.Index(output, "person-2")
		grace := strings.Index(output, "person-3")
		assert.True(t, ada < alan && alan < grace, "rows out of order:\n%s", output)
		assert.Contains(t, output, `name="Ada" team="engine"`)
	})

	t.Run("jsonl carries complete records", func(t *testing.T) {
		store := setupStore(t)
		var buf bytes.Buffer
		require.NoError(t, ListRecords(ctx, store, "person", OutputFormatJSONL, nil, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		var first Record
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "person-1", first.NodeID)
		assert.Equal(t, int64(1), first.Number)
		assert.Equal(t, "Ada", first.Fields["name"])
	})

	t.Run("number range filter", func(t *testing.T) {
		store := setupStore(t)
		var buf bytes.Buffer
		filters := &FilterCriteria{MinNumber: 2, MaxNumber: 2}
		require.NoError(t, ListRecords(ctx, store, "person", OutputFormatJSONL, filters, &buf))
		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
		assert.Contains(t, buf.String(), "Alan")
	})

	t.Run("field glob filter", func(t *testing.T) {
		store := setupStore(t)
		var buf bytes.Buffer
		filters := &FilterCriteria{Fields: map[string]string{"name": "A*"}}
		require.NoError(t, ListRecords(ctx, store, "person", OutputFormatDefault, filters, &buf))
		assert.Contains(t, buf.String(), "2 records found")
		assert.NotContains(t, buf.String(), "Grace")
	})

	t.Run("unknown format", func(t *testing.T) {
		store := setupStore(t)
		err := ListRecords(ctx, store, "person", OutputFormat("xml"), nil, &bytes.Buffer{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown output format")
	})
}

func TestGetRecord(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	t.Run("found", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, GetRecord(ctx, store, "person-3", &buf))
		var rec Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "person-3", rec.NodeID)
		assert.Equal(t, "Grace", rec.Fields["name"])
	})

	t.Run("not found", func(t *testing.T) {
		err := GetRecord(ctx, store, "person-99", &bytes.Buffer{})
		assert.True(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "person-99")
	})

	t.Run("malformed id", func(t *testing.T) {
		err := GetRecord(ctx, store, "person-x", &bytes.Buffer{})
		assert.Error(t, err)
		assert.False(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "invalid node id")
	})
}

func TestFormatFields(t *testing.T) {
	assert.Equal(t, "-", formatFields(nil))
	assert.Equal(t, `a=1 b="x"`, formatFields(map[string]any{"b": "x", "a": 1}))

	long := formatFields(map[string]any{"bio": strings.Repeat("z", 60)})
	assert.Len(t, long, 40)
	assert.True(t, strings.HasSuffix(long, "..."))
}
