package handlepool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFreeReuse(t *testing.T) {
	p := New[int](64)

	h1, err := p.Alloc(1)
	require.NoError(t, err)
	h2, err := p.Alloc(2)
	require.NoError(t, err)

	require.Equal(t, 1, *p.Get(h1))
	require.Equal(t, 2, *p.Get(h2))

	p.Free(h1)
	h3, err := p.Alloc(3)
	require.NoError(t, err)
	require.Equal(t, 3, *p.Get(h3))
}

func TestGrowDoublesUntilMax(t *testing.T) {
	p := New[int](4)
	var handles []Handle
	for i := 0; i < 4; i++ {
		h, err := p.Alloc(i)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	_, err := p.Alloc(99)
	require.ErrorIs(t, err, ErrOutOfHandles)
}

func TestWeakHandleResolveAfterFree(t *testing.T) {
	p := New[int](16)
	h, _ := p.Alloc(42)
	w := AsWeak(h)

	v, ok := p.Resolve(w)
	require.True(t, ok)
	require.Equal(t, 42, *v)

	p.Free(h)
	_, ok = p.Resolve(w)
	require.False(t, ok)
}

func TestGraphicPoolDeferredFree(t *testing.T) {
	g := NewGraphicPool[int](16, 3)
	h, err := g.Alloc(7)
	require.NoError(t, err)

	g.Free(h)
	// The handle must still be valid for the next two frame advances
	// (N=3 deferred-free queue).
	g.AdvanceFrame()
	g.AdvanceFrame()
	require.Equal(t, 7, *g.Get(h))

	g.AdvanceFrame()
	h2, err := g.Alloc(8)
	require.NoError(t, err)
	require.NotEqual(t, h.index, -1)
	_ = h2
}
