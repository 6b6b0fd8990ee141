package tile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/config"
	"github.com/boxcity/boxcity/internal/ecs"
	"github.com/boxcity/boxcity/internal/gpumem"
)

func newTestManager(t *testing.T) *Manager {
	cfg := config.Default(config.WithTileSize(200), config.WithBuildingRingK(3), config.WithGenerationAttempts(40))
	slab := gpumem.NewSlab(1 << 20)
	var nextRef int32
	spawn := func(zone ecs.ZoneID, b Building) ecs.InstanceRef {
		nextRef++
		return ecs.InstanceRef{WorkerID: 0, Slot: nextRef}
	}
	despawn := func(ecs.InstanceRef) {}
	return NewManager(cfg, slab, spawn, despawn)
}

func TestSetCameraTileGeneratesRing(t *testing.T) {
	m := newTestManager(t)
	m.SetCameraTile(WorldPos{0, 0})

	got, ok := m.TileAt(WorldPos{0, 0})
	require.True(t, ok)
	require.True(t, got.IsLoaded())
	require.Equal(t, 0, got.CurrentLOD())
}

func TestRegenerationIsDeterministic(t *testing.T) {
	m1 := newTestManager(t)
	m1.SetCameraTile(WorldPos{2, -3})
	t1, _ := m1.TileAt(WorldPos{2, -3})

	m2 := newTestManager(t)
	m2.SetCameraTile(WorldPos{2, -3})
	t2, _ := m2.TileAt(WorldPos{2, -3})

	require.Equal(t, len(t1.boxes), len(t2.boxes))
	for i := range t1.boxes {
		require.Equal(t, t1.boxes[i].AABB, t2.boxes[i].AABB)
	}
}

func TestTileBoxesDoNotOverlap(t *testing.T) {
	m := newTestManager(t)
	m.SetCameraTile(WorldPos{0, 0})
	tl, _ := m.TileAt(WorldPos{0, 0})

	for i := range tl.boxes {
		for j := range tl.boxes {
			if i == j {
				continue
			}
			require.False(t, tl.boxes[i].AABB.Intersects(tl.boxes[j].AABB), "accepted boxes within a tile must not overlap")
		}
	}
}

func TestVisitBuildingsFindsAcceptedBoxes(t *testing.T) {
	m := newTestManager(t)
	m.SetCameraTile(WorldPos{0, 0})
	tl, _ := m.TileAt(WorldPos{0, 0})
	require.NotEmpty(t, tl.boxes)

	var visited int
	m.VisitBuildings(tl.Bounds(), func(b Building) bool {
		visited++
		return true
	})
	// Neighbouring LOD-0 tiles whose boxes reach into the query are
	// visited too, so the expected count spans the whole ring.
	want := 0
	for _, rt := range m.ring {
		if !rt.IsLoaded0() || !rt.bounds.Intersects(tl.Bounds()) {
			continue
		}
		for _, b := range rt.boxes {
			if b.AABB.Intersects(tl.Bounds()) {
				want++
			}
		}
	}
	require.GreaterOrEqual(t, want, len(tl.boxes))
	require.Equal(t, want, visited)
}

func TestMovingCameraRecyclesRingSlots(t *testing.T) {
	m := newTestManager(t)
	m.SetCameraTile(WorldPos{0, 0})
	m.SetCameraTile(WorldPos{10, 10})

	_, ok := m.TileAt(WorldPos{0, 0})
	require.False(t, ok, "a tile far outside the new ring radius must be evicted")

	got, ok := m.TileAt(WorldPos{10, 10})
	require.True(t, ok)
	require.True(t, got.IsLoaded())
}
