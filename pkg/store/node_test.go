package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCreatesAncestors(t *testing.T) {
	n := NewNode()
	n.Set("/a/b/c", "value")

	node, ok := n.Get("/a/b/c")
	require.True(t, ok)
	assert.Equal(t, "value", node.Value())

	// Intermediate nodes are objects
	mid, ok := n.Get("/a/b")
	require.True(t, ok)
	assert.True(t, mid.IsObject())
}

func TestExistsReturnsMatchedPrefixLength(t *testing.T) {
	n := NewNode()
	n.Set("/Plan/DBServers/leader", "none")

	tests := []struct {
		name     string
		path     string
		expected int
	}{
		{"complete match", "/Plan/DBServers/leader", 3},
		{"partial match", "/Plan/DBServers/unknown", 2},
		{"prefix only", "/Plan/Missing/x", 1},
		{"no match", "/Missing", 0},
		{"root", "/", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.Exists(tt.path))
		})
	}
}

func TestTypedAccessors(t *testing.T) {
	n := NewNode()
	n.Set("/str", "hello")
	n.Set("/num", 42)
	n.Set("/flag", true)
	n.Set("/list", []interface{}{"a", "b"})

	s, err := n.GetString("/str")
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	u, err := n.GetUInt("/num")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), u)

	b, err := n.GetBool("/flag")
	require.NoError(t, err)
	assert.True(t, b)

	a, err := n.GetStringArray("/list")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, a)
}

func TestTypedAccessorErrors(t *testing.T) {
	n := NewNode()
	n.Set("/num", 42)

	_, err := n.GetString("/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = n.GetString("/num")
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = n.GetArray("/num")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestArrayOperations(t *testing.T) {
	n := NewNode()

	// Push creates the array
	n.Push("/list", "one")
	n.Push("/list", "two")
	n.Push("/list", "three")

	a, err := n.GetArray("/list")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"one", "two", "three"}, a)

	// Shift removes the head, order stays stable
	n.Shift("/list")
	a, err = n.GetArray("/list")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"two", "three"}, a)

	// Unshift prepends
	n.Unshift("/list", "zero")
	a, err = n.GetArray("/list")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"zero", "two", "three"}, a)

	// Pop removes the tail
	n.Pop("/list")
	a, err = n.GetArray("/list")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"zero", "two"}, a)

	// Pop and shift on empty arrays are no-ops
	n.Set("/empty", []interface{}{})
	n.Pop("/empty")
	n.Shift("/empty")
	a, err = n.GetArray("/empty")
	require.NoError(t, err)
	assert.Empty(t, a)
}

func TestDelete(t *testing.T) {
	n := NewNode()
	n.Set("/a/b", 1)
	n.Set("/a/c", 2)

	n.Delete("/a/b")
	assert.Equal(t, 1, n.Exists("/a/b"))
	_, err := n.GetUInt("/a/c")
	assert.NoError(t, err)

	// Deleting an absent path is a no-op
	n.Delete("/x/y/z")
}

func TestMergeRecursive(t *testing.T) {
	n := NewNode()
	n.Set("/cfg", map[string]interface{}{
		"a": map[string]interface{}{"x": 1, "y": 2},
		"b": "keep",
	})

	n.Merge("/cfg", map[string]interface{}{
		"a": map[string]interface{}{"y": 3},
		"c": "new",
	})

	y, err := n.GetUInt("/cfg/a/y")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), y)

	x, err := n.GetUInt("/cfg/a/x")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), x)

	b, err := n.GetString("/cfg/b")
	require.NoError(t, err)
	assert.Equal(t, "keep", b)

	c, err := n.GetString("/cfg/c")
	require.NoError(t, err)
	assert.Equal(t, "new", c)
}

func TestCloneIsDeep(t *testing.T) {
	n := NewNode()
	n.Set("/list", []interface{}{"a"})
	n.Set("/obj/k", "v")

	c := n.Clone()
	n.Push("/list", "b")
	n.Set("/obj/k", "changed")

	a, err := c.GetArray("/list")
	require.NoError(t, err)
	assert.Len(t, a, 1)

	v, err := c.GetString("/obj/k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestJSONRoundTrip(t *testing.T) {
	n := NewNode()
	n.Set("/Plan/Collections/db/col/shards/s1", []interface{}{"leader", "follower1"})
	n.Set("/Plan/Collections/db/col/replicationFactor", 2)

	data, err := json.Marshal(n)
	require.NoError(t, err)

	restored, err := NewNodeFromJSON(data)
	require.NoError(t, err)

	replicas, err := restored.GetStringArray("/Plan/Collections/db/col/shards/s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"leader", "follower1"}, replicas)

	factor, err := restored.GetUInt("/Plan/Collections/db/col/replicationFactor")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), factor)
}

func TestChildrenIteration(t *testing.T) {
	n := NewNode()
	n.Set("/servers/a", 1)
	n.Set("/servers/b", 2)

	servers, ok := n.Get("/servers")
	require.True(t, ok)

	names := make([]string, 0, 2)
	for name := range servers.Children() {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
