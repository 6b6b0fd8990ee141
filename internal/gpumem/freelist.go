package gpumem

import (
	"errors"
	"sort"
)

var ErrSlabExhausted = errors.New("gpumem: static slab has no block large enough")

const alignment = 16

func alignUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// StaticHandle identifies a live allocation in the static slab. Its Offset
// is stable from Alloc until Dealloc completes (spec.md §8 property 6).
type StaticHandle struct {
	id     uint64
	offset int
	size   int
}

func (h StaticHandle) Offset() int { return h.offset }
func (h StaticHandle) Size() int   { return h.size }

type block struct {
	offset int
	size   int
}

type pendingFree struct {
	block block
	frame uint64
}

// FreeList is the static GPU slab allocator: best-fit with neighbor
// coalescing, and deallocations deferred until the GPU has finished the
// frame that last touched the block (spec.md §4.3, §8 property 6).
type FreeList struct {
	capacity int
	free     []block // sorted by offset
	live     map[uint64]block
	pending  []pendingFree
	nextID   uint64
}

func NewFreeList(capacity int) *FreeList {
	capacity = alignUp(capacity)
	return &FreeList{
		capacity: capacity,
		free:     []block{{offset: 0, size: capacity}},
		live:     make(map[uint64]block),
	}
}

// Alloc picks the smallest free block >= size (best fit; the earliest
// such block in the free list wins ties), splitting the remainder back
// into the free list.
func (f *FreeList) Alloc(size int) (StaticHandle, error) {
	size = alignUp(size)
	bestIdx := -1
	for i, b := range f.free {
		if b.size >= size {
			if bestIdx == -1 || b.size < f.free[bestIdx].size {
				bestIdx = i
			}
		}
	}
	if bestIdx == -1 {
		return StaticHandle{}, ErrSlabExhausted
	}

	b := f.free[bestIdx]
	offset := b.offset
	remaining := b.size - size
	if remaining > 0 {
		f.free[bestIdx] = block{offset: offset + size, size: remaining}
	} else {
		f.free = append(f.free[:bestIdx], f.free[bestIdx+1:]...)
	}

	f.nextID++
	id := f.nextID
	f.live[id] = block{offset: offset, size: size}
	return StaticHandle{id: id, offset: offset, size: size}, nil
}

// Dealloc records the block as pending; it is not released into the free
// list until Sync observes that frame as GPU-completed.
func (f *FreeList) Dealloc(h StaticHandle, frame uint64) {
	b, ok := f.live[h.id]
	if !ok {
		return // double-dealloc is a no-op, matching §7 "ignored at tick()"
	}
	delete(f.live, h.id)
	f.pending = append(f.pending, pendingFree{block: b, frame: frame})
}

// Sync releases every pending free whose tagged frame is <= the
// GPU-completed frame, coalescing each released block with its neighbors.
func (f *FreeList) Sync(gpuCompletedFrame uint64) {
	remaining := f.pending[:0]
	for _, p := range f.pending {
		if p.frame <= gpuCompletedFrame {
			f.release(p.block)
		} else {
			remaining = append(remaining, p)
		}
	}
	f.pending = remaining
}

func (f *FreeList) release(b block) {
	idx := sort.Search(len(f.free), func(i int) bool { return f.free[i].offset >= b.offset })
	f.free = append(f.free, block{})
	copy(f.free[idx+1:], f.free[idx:])
	f.free[idx] = b
	f.coalesceAround(idx)
}

func (f *FreeList) coalesceAround(idx int) {
	// Merge with the next block first so idx stays valid.
	if idx+1 < len(f.free) && f.free[idx].offset+f.free[idx].size == f.free[idx+1].offset {
		f.free[idx].size += f.free[idx+1].size
		f.free = append(f.free[:idx+1], f.free[idx+2:]...)
	}
	if idx > 0 && f.free[idx-1].offset+f.free[idx-1].size == f.free[idx].offset {
		f.free[idx-1].size += f.free[idx].size
		f.free = append(f.free[:idx], f.free[idx+1:]...)
	}
}

// FreeBytes sums the currently free (already-released) capacity.
func (f *FreeList) FreeBytes() int {
	total := 0
	for _, b := range f.free {
		total += b.size
	}
	return total
}

func (f *FreeList) Capacity() int { return f.capacity }
