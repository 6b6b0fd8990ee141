package traffic

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/config"
	"github.com/boxcity/boxcity/internal/ecs"
	"github.com/boxcity/boxcity/internal/gpumem"
)

func mgl32Vec3(x, y, z float32) mgl32.Vec3 { return mgl32.Vec3{x, y, z} }

func newTestManager() *Manager {
	cfg := config.Default(config.WithTrafficRingK(3), config.WithCarsPerTile(8))
	slab := gpumem.NewSlab(1 << 20)
	return NewManager(cfg, slab, nil)
}

func TestSetCameraTileActivatesRing(t *testing.T) {
	m := newTestManager()
	m.SetCameraTile(WorldPos{0, 0})

	tl, ok := m.TileAt(WorldPos{0, 0})
	require.True(t, ok)
	require.True(t, tl.Activated())
	require.Equal(t, 0, tl.LiveCount())
}

func TestAddRemoveVehicleTracksLiveCount(t *testing.T) {
	m := newTestManager()
	m.SetCameraTile(WorldPos{0, 0})
	tl, _ := m.TileAt(WorldPos{0, 0})

	ref := ecs.InstanceRef{WorkerID: 0, Slot: 1}
	slot, ok := m.AddVehicle(tl, ref)
	require.True(t, ok)
	require.Equal(t, 1, tl.LiveCount())

	m.ProcessCarMoves(1)
	require.EqualValues(t, 1, tl.ShadowInstanceList()[0])

	m.RemoveVehicle(tl, slot)
	require.Equal(t, 0, tl.LiveCount())
	m.ProcessCarMoves(2)
	require.EqualValues(t, 0, tl.ShadowInstanceList()[0])
}

func TestTileFillsUpToCapacity(t *testing.T) {
	m := newTestManager()
	m.SetCameraTile(WorldPos{0, 0})
	tl, _ := m.TileAt(WorldPos{0, 0})

	for i := 0; i < tl.maxCount; i++ {
		_, ok := m.AddVehicle(tl, ecs.InstanceRef{WorkerID: 0, Slot: int32(i + 1)})
		require.True(t, ok)
	}
	_, ok := m.AddVehicle(tl, ecs.InstanceRef{WorkerID: 0, Slot: 999})
	require.False(t, ok, "a full tile must refuse further vehicles")
}

func TestRegisterECSChangeMarksBlockDirty(t *testing.T) {
	m := newTestManager()
	m.SetCameraTile(WorldPos{1, 1})
	tl, _ := m.TileAt(WorldPos{1, 1})

	m.RegisterECSChange(tl.ZoneID(), 5)
	m.mu.Lock()
	_, ok := m.invalidatedBlocks[tl.ZoneID()][5/blockSize]
	m.mu.Unlock()
	require.True(t, ok)
}

func TestToroidalFixupOffsetsByTileDelta(t *testing.T) {
	pos := mgl32Vec3(10, 10, 10)
	target := mgl32Vec3(20, 20, 20)
	last := mgl32Vec3(5, 5, 5)

	newPos, newTarget, newLast := ToroidalFixup(pos, target, last, WorldPos{0, 0}, WorldPos{1, 0}, 100)

	require.Equal(t, mgl32Vec3(110, 10, 10), newPos)
	require.Equal(t, mgl32Vec3(120, 20, 20), newTarget)
	require.Equal(t, mgl32Vec3(105, 5, 5), newLast)
}

func TestWorldTileOfMatchesFloorDivision(t *testing.T) {
	require.Equal(t, WorldPos{0, 0}, WorldTileOf(mgl32Vec3(50, 50, 0), 100))
	require.Equal(t, WorldPos{-1, 0}, WorldTileOf(mgl32Vec3(-10, 50, 0), 100))
	require.Equal(t, WorldPos{1, -1}, WorldTileOf(mgl32Vec3(150, -50, 0), 100))
}
