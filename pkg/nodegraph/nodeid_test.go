package nodegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeID_RoundTrip(t *testing.T) {
	cases := []NodeID{
		{Type: "person", Number: 42},
		{Type: "blog-post", Number: 7},
		{Type: "a", Number: 0},
	}
	for _, want := range cases {
		t.Run(want.String(), func(t *testing.T) {
			got, err := ParseNodeID(FormatNodeID(want.Type, want.Number))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseNodeID(t *testing.T) {
	t.Run("splits at the last dash", func(t *testing.T) {
		id, err := ParseNodeID("blog-post-12")
		require.NoError(t, err)
		assert.Equal(t, "blog-post", id.Type)
		assert.Equal(t, int64(12), id.Number)
	})

	t.Run("bare number has no type", func(t *testing.T) {
		id, err := ParseNodeID("12")
		require.NoError(t, err)
		assert.Equal(t, NodeID{Number: 12}, id)
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		for _, s := range []string{"", "person-", "-3", "person-x", "person", "person-+3", "+3"} {
			_, err := ParseNodeID(s)
			assert.Error(t, err, s)
		}
	})

	t.Run("negative numbers do not round trip", func(t *testing.T) {
		formatted := FormatNodeID("a", -1)
		assert.Equal(t, "a--1", formatted)
		_, err := ParseNodeID(formatted)
		assert.ErrorIs(t, err, ErrInvalidNodeNumber)

		_, err = ParseNodeID("blog-post--12")
		assert.ErrorIs(t, err, ErrInvalidNodeNumber)
	})
}

func TestNodeIDOf(t *testing.T) {
	id, ok := NodeIDOf("person-3", "person")
	assert.True(t, ok)
	assert.Equal(t, "person-3", id)

	id, ok = NodeIDOf("3", "person")
	assert.True(t, ok)
	assert.Equal(t, "person-3", id)

	id, ok = NodeIDOf("animal-3", "person")
	assert.False(t, ok)
	assert.Empty(t, id)

	id, ok = NodeIDOf("animal-3", "")
	assert.True(t, ok)
	assert.Equal(t, "animal-3", id)
}

func TestNodeNumber(t *testing.T) {
	n, err := NodeNumber("person-9", "person")
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	_, err = NodeNumber("animal-9", "person")
	assert.ErrorIs(t, err, ErrNodeTypeMismatch)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/person-1/data/foo", ResolvePath("data/foo", "person-1"))
	assert.Equal(t, "/people", ResolvePath("/people", "person-1"))
}

func TestParams(t *testing.T) {
	t.Run("encode sorts keys and joins lists", func(t *testing.T) {
		p := Params{"z": 1, "a": []string{"x", "y"}, "m": "a b"}
		assert.Equal(t, "a=x%2Cy&m=a+b&z=1", p.Encode())
	})

	t.Run("without drops values equal to defaults", func(t *testing.T) {
		p := Params{"revision": 9, "historical": true, "depth": 2}
		got := p.Without(Params{"revision": 9, "historical": false})
		assert.Equal(t, Params{"historical": true, "depth": 2}, got)
	})

	t.Run("merge does not touch the receiver", func(t *testing.T) {
		base := Params{"a": 1}
		merged := base.Merge(Params{"b": 2})
		assert.Equal(t, Params{"a": 1}, base)
		assert.Equal(t, Params{"a": 1, "b": 2}, merged)
	})
}
