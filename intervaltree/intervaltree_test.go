package intervaltree

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/hashrange"
)

func u(v uint64) hashrange.HashRange { return hashrange.NewUint64HashRange(v) }

func TestStabOrdering(t *testing.T) {
	type shard struct {
		name     string
		priority int
	}
	tree := New[shard](func(a, b shard) bool { return a == b })

	tree.Insert(u(0), u(99), shard{"X", 1})
	tree.Insert(u(50), u(149), shard{"Y", 5})

	hits := tree.Stab(u(75))
	require.Len(t, hits, 2)

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Value.priority != hits[j].Value.priority {
			return hits[i].Value.priority > hits[j].Value.priority
		}
		return hits[i].Seq < hits[j].Seq
	})
	require.Equal(t, "Y", hits[0].Value.name)
	require.Equal(t, "X", hits[1].Value.name)
}

func TestRemoveAndSize(t *testing.T) {
	tree := New[string](func(a, b string) bool { return a == b })
	tree.Insert(u(0), u(10), "a")
	tree.Insert(u(5), u(15), "b")
	require.Equal(t, 2, tree.Size())

	require.True(t, tree.Remove(u(0), u(10), "a"))
	require.Equal(t, 1, tree.Size())
	require.False(t, tree.Remove(u(0), u(10), "a"))
}

func TestClear(t *testing.T) {
	tree := New[int](func(a, b int) bool { return a == b })
	tree.Insert(u(0), u(10), 1)
	tree.Clear()
	require.Equal(t, 0, tree.Size())
	require.Empty(t, tree.Stab(u(5)))
}
