package bvh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/geom"
)

func box(cx, cy, cz, half float32) geom.AABB {
	c := mgl32.Vec3{cx, cy, cz}
	h := mgl32.Vec3{half, half, half}
	return geom.NewAABB(c.Sub(h), c.Add(h))
}

func TestBuildSingleItem(t *testing.T) {
	tree := Build([]Item{{Bounds: box(0, 0, 0, 1), Data: 42}})
	require.Equal(t, 1, tree.Len())

	var hits []int32
	tree.Query(box(0, 0, 0, 5), func(data int32) bool {
		hits = append(hits, data)
		return true
	})
	require.Equal(t, []int32{42}, hits)
}

func TestQueryFindsOnlyIntersectingLeaves(t *testing.T) {
	items := []Item{
		{Bounds: box(0, 0, 0, 1), Data: 0},
		{Bounds: box(100, 0, 0, 1), Data: 1},
		{Bounds: box(0, 100, 0, 1), Data: 2},
		{Bounds: box(0, 0, 100, 1), Data: 3},
		{Bounds: box(1, 1, 1, 1), Data: 4},
	}
	tree := Build(items)
	require.Equal(t, len(items), tree.Len())

	var hits []int32
	tree.Query(box(0, 0, 0, 2), func(data int32) bool {
		hits = append(hits, data)
		return true
	})

	require.ElementsMatch(t, []int32{0, 4}, hits)
}

func TestQueryVisitsEveryItemInLargeSet(t *testing.T) {
	const n = 500
	items := make([]Item, n)
	for i := 0; i < n; i++ {
		x := float32(i%20) * 10
		y := float32((i / 20) % 20) * 10
		z := float32(i/400) * 10
		items[i] = Item{Bounds: box(x, y, z, 0.4), Data: int32(i)}
	}
	tree := Build(items)

	seen := make(map[int32]bool)
	tree.Query(box(95, 95, 5, 1000), func(data int32) bool {
		seen[data] = true
		return true
	})
	require.Len(t, seen, n, "a query box covering every item must visit all of them exactly once")
}

func TestQueryEarlyExitStopsTraversal(t *testing.T) {
	items := []Item{
		{Bounds: box(0, 0, 0, 1), Data: 0},
		{Bounds: box(1, 0, 0, 1), Data: 1},
		{Bounds: box(2, 0, 0, 1), Data: 2},
	}
	tree := Build(items)

	count := 0
	tree.Query(box(0, 0, 0, 10), func(data int32) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}

func TestEmptyBVHQueryVisitsNothing(t *testing.T) {
	tree := Empty()
	called := false
	tree.Query(box(0, 0, 0, 1000), func(int32) bool {
		called = true
		return true
	})
	require.False(t, called)
}
