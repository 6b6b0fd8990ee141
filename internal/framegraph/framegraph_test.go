package framegraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmitOrdersPassesByPreConditions(t *testing.T) {
	pool := NewPool(2)
	g := NewGraph(pool)

	var order []string
	g.AddPass(&Pass{
		Name:        "present",
		PreConditions: []Dep{{Resource: "backbuffer", State: StateRenderTarget}},
		PostUpdates:   []Dep{{Resource: "backbuffer", State: StatePresent}},
		Execute:       func(ctx *ExecContext) { order = append(order, "present") },
	})
	g.AddPass(&Pass{
		Name:        "gbuffer",
		PreConditions: nil,
		PostUpdates:   []Dep{{Resource: "backbuffer", State: StateRenderTarget}},
		Execute:       func(ctx *ExecContext) { order = append(order, "gbuffer") },
	})

	result := g.Submit()
	require.Empty(t, result.Diagnostic)
	require.Equal(t, []string{"gbuffer", "present"}, result.Order)
	require.Equal(t, []string{"gbuffer", "present"}, order)
}

func TestSubmitReportsDiagnosticWhenStuck(t *testing.T) {
	pool := NewPool(2)
	g := NewGraph(pool)
	g.AddPass(&Pass{
		Name:        "needs-shadow",
		PreConditions: []Dep{{Resource: "shadowmap", State: StateShaderResource}},
	})

	result := g.Submit()
	require.NotEmpty(t, result.Diagnostic)
	require.Empty(t, result.Order)
}

func TestPoolReusesMatchingSlotAcrossFrames(t *testing.T) {
	pool := NewPool(2)
	req := PoolRequest{Type: "texture2d", Width: 1920, Height: 1080, Format: "rgba8"}

	s1 := pool.Acquire(req)
	pool.EndFrame()
	s2 := pool.Acquire(req)

	require.Same(t, s1, s2, "a matching released slot must be reused instead of reallocated")
}

func TestPoolPinsNotAliasSlotByName(t *testing.T) {
	pool := NewPool(2)
	req := PoolRequest{Name: "history.velocity", Type: "texture2d", Width: 512, Height: 512, Format: "rg16f", NotAlias: true}

	s1 := pool.Acquire(req)
	pool.EndFrame()
	other := PoolRequest{Type: "texture2d", Width: 512, Height: 512, Format: "rg16f"}
	s2 := pool.Acquire(other)

	require.NotSame(t, s1, s2, "a not_alias slot must never be handed out to a differently-named request")
}

func TestPoolEvictsSlotIdleForTwoFrames(t *testing.T) {
	pool := NewPool(2)
	req := PoolRequest{Type: "buffer", Width: 64, Height: 1, Format: "raw"}
	pool.Acquire(req)
	require.Equal(t, 1, pool.NumSlots())

	pool.EndFrame() // end of the frame that used it: released, idleFrames = 0
	require.Equal(t, 1, pool.NumSlots())
	pool.EndFrame() // idleFrames -> 1
	require.Equal(t, 1, pool.NumSlots())
	pool.EndFrame() // idleFrames -> 2, evicted
	require.Equal(t, 0, pool.NumSlots())
}

func TestSortRenderItemsBuildsPriorityTable(t *testing.T) {
	perWorker := [][]RenderItem{
		{{Priority: 1, SortKey: 5, Data: 1}, {Priority: 0, SortKey: 10, Data: 2}},
		{{Priority: 1, SortKey: 2, Data: 3}, {Priority: 2, SortKey: 0, Data: 4}},
	}
	sorted, table := SortRenderItems(perWorker)
	require.Len(t, sorted, 4)
	for i := 1; i < len(sorted); i++ {
		require.LessOrEqual(t, sorted[i-1].Priority, sorted[i].Priority)
	}

	p1 := DrawRenderItems(sorted, table, 1)
	require.Len(t, p1, 2)
	require.Equal(t, uint32(3), p1[0].Data)
	require.Equal(t, uint32(1), p1[1].Data)
}

func TestSortRenderItemsAboveThresholdUsesKWayMerge(t *testing.T) {
	var perWorker [][]RenderItem
	for w := 0; w < 4; w++ {
		var items []RenderItem
		for i := 0; i < sortThreshold; i++ {
			items = append(items, RenderItem{Priority: uint8(i % 3), SortKey: uint32((i * 37) % 1000), Data: uint32(w*100000 + i)})
		}
		perWorker = append(perWorker, items)
	}
	sorted, _ := SortRenderItems(perWorker)
	require.Len(t, sorted, 4*sortThreshold)
	for i := 1; i < len(sorted); i++ {
		require.LessOrEqual(t, sorted[i-1].packedKey(), sorted[i].packedKey())
	}
}

func TestDrawRenderItemsReturnsNilForEmptyPriority(t *testing.T) {
	sorted, table := SortRenderItems([][]RenderItem{{{Priority: 0, SortKey: 0}}})
	require.Nil(t, DrawRenderItems(sorted, table, 200))
}
