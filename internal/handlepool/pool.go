// Package handlepool implements the generational-ish slot allocator from
// spec.md §4.1, grounded on original_source/engine/core/handle_pool.h
// (dense backing, per-slot next_free chain, move-only strong handles,
// copyable weak handles with debug reference tracking) and on the
// teacher's arena/free-list idiom in ecs.go's archetypeReserveRow.
package handlepool

import (
	"errors"
	"sync"

	"github.com/boxcity/boxcity/internal/debug"
)

var ErrOutOfHandles = errors.New("handlepool: out of handles")

const invalidIndex = -1

// Handle is a strong, move-only-by-convention reference to a slot. Go has
// no move semantics, so "move-only" is enforced by discipline: callers
// must not copy a Handle after Free.
type Handle struct {
	index int
	gen    uint32
}

func (h Handle) IsValid() bool { return h.index != invalidIndex }

// WeakHandle is a copyable, non-owning reference validated against the
// slot's generation so a freed-then-reused slot cannot be mistaken for
// the original payload (the ABA concern the source's comment space
// reserves a version byte for but never uses).
type WeakHandle struct {
	index int
	gen    uint32
}

func (w WeakHandle) IsValid() bool { return w.index != invalidIndex }

func AsWeak(h Handle) WeakHandle { return WeakHandle{index: h.index, gen: h.gen} }

type slot[T any] struct {
	data     T
	nextFree int
	gen      uint32
	alive    bool
	weakRefs int
}

// Pool stores T values in a densely packed backing with a stable handle
// per live value.
type Pool[T any] struct {
	mu       sync.Mutex
	slots    []slot[T]
	freeHead int
	maxSize  int
}

// New creates a pool that grows by doubling (starting at 16) up to
// maxSize, after which Alloc fails with ErrOutOfHandles.
func New[T any](maxSize int) *Pool[T] {
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	return &Pool[T]{freeHead: invalidIndex, maxSize: maxSize}
}

func (p *Pool[T]) Alloc(value T) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freeHead == invalidIndex {
		if err := p.grow(); err != nil {
			return Handle{index: invalidIndex}, err
		}
	}

	idx := p.freeHead
	s := &p.slots[idx]
	p.freeHead = s.nextFree
	s.data = value
	s.alive = true
	return Handle{index: idx, gen: s.gen}, nil
}

func (p *Pool[T]) grow() error {
	cur := len(p.slots)
	next := cur * 2
	if next == 0 {
		next = 16
	}
	if next > p.maxSize {
		next = p.maxSize
	}
	if next <= cur {
		return ErrOutOfHandles
	}
	grown := make([]slot[T], next)
	copy(grown, p.slots)
	for i := cur; i < next; i++ {
		grown[i].nextFree = i + 1
	}
	grown[next-1].nextFree = invalidIndex
	p.slots = grown
	p.freeHead = cur
	return nil
}

// Free destroys the payload at h and returns the slot to the free list,
// invalidating h. Double-free panics in debug builds.
func (p *Pool[T]) Free(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.slots[h.index]
	debug.Assert(s.alive && s.gen == h.gen, "handlepool: double free or stale handle")
	if debug.Enabled() {
		debug.Assert(s.weakRefs == 0, "handlepool: freeing slot with %d live weak references", s.weakRefs)
	}
	var zero T
	s.data = zero
	s.alive = false
	s.gen++
	s.nextFree = p.freeHead
	p.freeHead = h.index
}

func (p *Pool[T]) Get(h Handle) *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &p.slots[h.index]
	debug.Assert(s.alive && s.gen == h.gen, "handlepool: access to stale handle")
	return &s.data
}

// Resolve dereferences a weak handle, returning ok=false if the slot has
// since been freed or recycled into a different generation.
func (p *Pool[T]) Resolve(w WeakHandle) (*T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.index < 0 || w.index >= len(p.slots) {
		return nil, false
	}
	s := &p.slots[w.index]
	if !s.alive || s.gen != w.gen {
		return nil, false
	}
	return &s.data, true
}

// TrackWeak/UntrackWeak implement the debug-build weak reference counting
// the source keeps behind WEAKHANDLE_TRACKING, here gated on debug.Enabled.
func (p *Pool[T]) TrackWeak(w WeakHandle) {
	if !debug.Enabled() || !w.IsValid() {
		return
	}
	p.mu.Lock()
	p.slots[w.index].weakRefs++
	p.mu.Unlock()
}

func (p *Pool[T]) UntrackWeak(w WeakHandle) {
	if !debug.Enabled() || !w.IsValid() {
		return
	}
	p.mu.Lock()
	p.slots[w.index].weakRefs--
	p.mu.Unlock()
}

// Len reports the backing capacity (not live count).
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// GraphicPool extends Pool with an N-frame deferred-free queue for
// GPU-visible objects (spec.md §4.1 "Graphic pool").
type GraphicPool[T any] struct {
	pool      *Pool[T]
	buckets   [][]Handle
	frame     int
	numFrames int
	mu        sync.Mutex
}

func NewGraphicPool[T any](maxSize, deferredFrames int) *GraphicPool[T] {
	if deferredFrames < 1 {
		deferredFrames = 1
	}
	return &GraphicPool[T]{
		pool:      New[T](maxSize),
		buckets:   make([][]Handle, deferredFrames),
		numFrames: deferredFrames,
	}
}

func (g *GraphicPool[T]) Alloc(value T) (Handle, error) { return g.pool.Alloc(value) }
func (g *GraphicPool[T]) Get(h Handle) *T               { return g.pool.Get(h) }

// Free enqueues h into the current frame's bucket rather than freeing
// immediately.
func (g *GraphicPool[T]) Free(h Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buckets[g.frame%g.numFrames] = append(g.buckets[g.frame%g.numFrames], h)
}

// AdvanceFrame releases the bucket that is numFrames old and rotates the
// ring forward.
func (g *GraphicPool[T]) AdvanceFrame() {
	g.mu.Lock()
	releaseIdx := (g.frame + 1) % g.numFrames
	toFree := g.buckets[releaseIdx]
	g.buckets[releaseIdx] = nil
	g.frame++
	g.mu.Unlock()

	for _, h := range toFree {
		g.pool.Free(h)
	}
}
