// Package bvh implements the linear bounding volume hierarchy used to
// accelerate spatial queries over tile geometry and traffic targets
// (spec.md C5): a Morton-code sort followed by Karras' bottom-up linear
// construction, queried with a stack-based AABB range search and a
// visitor callback.
//
// Grounded on _keep_ref/voxelrt/rt/bvh/builder.go's AABBItem/centroid
// split pattern, replacing its median-split top-down recursion with the
// linear bottom-up build original_source/engine/helpers/bvh.h uses, which
// spec.md §4.5/§4.6 require for the two-BVH-per-tile construction cost.
package bvh

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/boxcity/boxcity/internal/geom"
)

// Item is one leaf to be inserted into the tree: a bounding box and an
// opaque payload (a raw box index, or an encoded InstanceRef) returned to
// the visitor on a query hit.
type Item struct {
	Bounds geom.AABB
	Data   int32
}

type leafNode struct {
	bounds geom.AABB
	parent int32
}

type internalNode struct {
	bounds              geom.AABB
	left, right         int32
	leftIsLeaf          bool
	rightIsLeaf         bool
	parent              int32
	childAABBsAvailable int
}

// BVH is an immutable linear bounding volume hierarchy over a fixed set
// of items, rebuilt wholesale whenever its items change (spec.md's tile
// and traffic-target structures rebuild rather than incrementally
// refit).
type BVH struct {
	items     []Item // in original (pre-sort) order, indexed by Item index on leaves
	order     []int32 // order[i] = original item index of the i-th leaf in sorted order
	leaves    []leafNode
	internals []internalNode
	root      int32 // encoded node ref; see encodeLeaf/encodeInternal
	count     int
}

func encodeLeaf(i int32) int32     { return -(i + 1) }
func encodeInternal(i int32) int32 { return i }
func isLeafRef(ref int32) bool     { return ref < 0 }
func leafIndex(ref int32) int32    { return -ref - 1 }

// Empty returns a BVH with no items; Query on it never visits anything.
func Empty() *BVH { return &BVH{} }

// Build constructs a new linear BVH over items. The previous tree (if
// any) is discarded; spec.md's tile/traffic generation rebuilds the
// whole structure per tile rather than refitting incrementally.
func Build(items []Item) *BVH {
	b := &BVH{items: items, count: len(items)}
	if len(items) == 0 {
		return b
	}
	if len(items) == 1 {
		b.order = []int32{0}
		b.leaves = []leafNode{{bounds: items[0].Bounds, parent: -1}}
		b.root = encodeLeaf(0)
		return b
	}

	bounds := geom.EmptyAABB()
	for _, it := range items {
		bounds = bounds.Grow(it.Bounds)
	}

	type keyed struct {
		code  uint64
		index int32
	}
	keys := make([]keyed, len(items))
	for i, it := range items {
		c := it.Bounds.Center()
		keys[i] = keyed{code: mortonCode(c, bounds), index: int32(i)}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].code != keys[j].code {
			return keys[i].code < keys[j].code
		}
		return keys[i].index < keys[j].index
	})

	n := len(items)
	codes := make([]uint64, n)
	b.order = make([]int32, n)
	b.leaves = make([]leafNode, n)
	for i, k := range keys {
		codes[i] = k.code
		b.order[i] = k.index
		b.leaves[i] = leafNode{bounds: items[k.index].Bounds, parent: -1}
	}

	b.internals = make([]internalNode, n-1)
	for i := 0; i < n-1; i++ {
		lo, hi := determineRange(codes, i)
		split := findSplit(codes, lo, hi)

		var leftRef, rightRef int32
		leftIsLeaf := split == min(lo, hi)
		rightIsLeaf := split+1 == max(lo, hi)
		if leftIsLeaf {
			leftRef = encodeLeaf(int32(split))
		} else {
			leftRef = encodeInternal(int32(split))
		}
		if rightIsLeaf {
			rightRef = encodeLeaf(int32(split + 1))
		} else {
			rightRef = encodeInternal(int32(split + 1))
		}

		b.internals[i] = internalNode{
			left: leftRef, right: rightRef,
			leftIsLeaf: leftIsLeaf, rightIsLeaf: rightIsLeaf,
			parent: -1,
		}
		if leftIsLeaf {
			b.leaves[split].parent = int32(i)
		} else {
			b.internals[split].parent = int32(i)
		}
		if rightIsLeaf {
			b.leaves[split+1].parent = int32(i)
		} else {
			b.internals[split+1].parent = int32(i)
		}
	}
	b.root = encodeInternal(0)

	b.refitBottomUp()
	return b
}

// refitBottomUp computes every internal node's bounding box from its
// children, each internal node processed once both children have
// contributed (the sequential analogue of Karras' atomic-counter climb).
func (b *BVH) refitBottomUp() {
	for i := range b.leaves {
		parent := b.leaves[i].parent
		b.climb(parent, b.leaves[i].bounds)
	}
}

func (b *BVH) climb(nodeIdx int32, childBounds geom.AABB) {
	for nodeIdx >= 0 {
		node := &b.internals[nodeIdx]
		node.childAABBsAvailable++
		node.bounds = node.bounds.Grow(childBounds)
		if node.childAABBsAvailable < 2 {
			return
		}
		childBounds = node.bounds
		nodeIdx = node.parent
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Query visits every item whose leaf bounds intersect box, in an
// unspecified order, stopping early if visit returns false.
func (b *BVH) Query(box geom.AABB, visit func(data int32) bool) {
	if b.count == 0 {
		return
	}
	if b.count == 1 {
		if b.leaves[0].bounds.Intersects(box) {
			visit(b.items[b.order[0]].Data)
		}
		return
	}

	stack := make([]int32, 0, 64)
	stack = append(stack, b.root)
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if isLeafRef(ref) {
			li := leafIndex(ref)
			if b.leaves[li].bounds.Intersects(box) {
				if !visit(b.items[b.order[li]].Data) {
					return
				}
			}
			continue
		}
		node := b.internals[ref]
		if !node.bounds.Intersects(box) {
			continue
		}
		stack = append(stack, node.left, node.right)
	}
}

// Bounds returns the root bounding box, or an empty AABB if the tree has
// no items.
func (b *BVH) Bounds() geom.AABB {
	if b.count == 0 {
		return geom.EmptyAABB()
	}
	if b.count == 1 {
		return b.leaves[0].bounds
	}
	return b.internals[0].bounds
}

func (b *BVH) Len() int { return b.count }

// mortonBits is the per-axis quantization width; 10 bits per axis packs
// a 30-bit interleaved code into a uint64, matching the 30-bit Morton
// code original_source/engine/helpers/bvh.h derives per axis.
const mortonBits = 10
const mortonScale = (1 << mortonBits) - 1

func mortonCode(p mgl32.Vec3, bounds geom.AABB) uint64 {
	ext := bounds.Extent()
	norm := func(v, lo, extent float32) uint32 {
		if extent <= 0 {
			return 0
		}
		n := (v - lo) / extent
		if n < 0 {
			n = 0
		}
		if n > 1 {
			n = 1
		}
		return uint32(n * mortonScale)
	}
	x := norm(p.X(), bounds.Min.X(), ext.X())
	y := norm(p.Y(), bounds.Min.Y(), ext.Y())
	z := norm(p.Z(), bounds.Min.Z(), ext.Z())
	return interleave3(x) | interleave3(y)<<1 | interleave3(z)<<2
}

// interleave3 spreads the low 10 bits of v so they occupy every third
// bit position, ready to be OR'd together for a 30-bit Morton code.
func interleave3(v uint32) uint64 {
	x := uint64(v) & 0x3FF
	x = (x | x<<16) & 0x030000FF
	x = (x | x<<8) & 0x0300F00F
	x = (x | x<<4) & 0x030C30C3
	x = (x | x<<2) & 0x09249249
	return x
}

// determineRange implements Karras' range-determination step: given the
// sorted Morton codes and an internal node's index i, returns the
// (inclusive, possibly reversed) [lo,hi] range of leaves it spans.
func determineRange(codes []uint64, i int) (int, int) {
	n := len(codes)
	if i == 0 {
		return 0, n - 1
	}

	delta := func(a, b int) int {
		if b < 0 || b >= n {
			return -1
		}
		if codes[a] == codes[b] {
			// tie-break on index to keep delta well ordered
			return 64 + clz64(uint64(a)^uint64(b))
		}
		return clz64(codes[a] ^ codes[b])
	}

	d := 1
	if delta(i, i-1) > delta(i, i+1) {
		d = -1
	}
	deltaMin := delta(i, i-d)

	lmax := 2
	for delta(i, i+lmax*d) > deltaMin {
		lmax *= 2
	}
	l := 0
	for t := lmax / 2; t >= 1; t /= 2 {
		if delta(i, i+(l+t)*d) > deltaMin {
			l += t
		}
	}
	j := i + l*d

	if d > 0 {
		return i, j
	}
	return j, i
}

// findSplit finds the highest bit at which all codes in [lo,hi] diverge,
// the point Karras' algorithm partitions the range at.
func findSplit(codes []uint64, lo, hi int) int {
	if lo == hi {
		return lo
	}
	first, last := codes[lo], codes[hi]
	if first == last {
		return (lo + hi) / 2
	}
	commonPrefix := clz64(first ^ last)

	split := lo
	step := hi - lo
	for {
		step = (step + 1) / 2
		newSplit := split + step
		if newSplit < hi {
			splitCode := codes[newSplit] ^ first
			if splitCode == 0 || clz64(splitCode) > commonPrefix {
				split = newSplit
			}
		}
		if step <= 1 {
			break
		}
	}
	return split
}

func clz64(v uint64) int {
	if v == 0 {
		return 64
	}
	n := 0
	for mask := uint64(1) << 63; mask&v == 0; mask >>= 1 {
		n++
	}
	return n
}
