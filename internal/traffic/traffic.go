// Package traffic implements the vehicle-tile traffic manager (spec.md
// C7): an independent K×K toroidal ring of vehicle tiles, each backed by
// a fixed-size GPU instance-list allocation patched incrementally via
// per-zone invalidation sets, and the toroidal coordinate fixup applied
// when a vehicle crosses a tile boundary.
//
// Grounded on original_source/box_city/box_city_traffic_manager.h's
// Tile/invalidated-zone/invalidated-memory-block model, adapted onto
// internal/gpumem's static slab and copy queue.
package traffic

import (
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/boxcity/boxcity/internal/config"
	"github.com/boxcity/boxcity/internal/ecs"
	"github.com/boxcity/boxcity/internal/geom"
	"github.com/boxcity/boxcity/internal/gpumem"
)

// WorldPos is a vehicle tile's position in the world tile grid.
type WorldPos struct{ I, J int32 }

// blockSize is the number of uint32s a 16-byte-aligned instance-list
// block holds (spec.md §4.7).
const blockSize = 4

// Tile is one slot of the traffic ring.
type Tile struct {
	activated bool
	zone      ecs.ZoneID
	worldPos  WorldPos
	bounds    geom.AABB

	listHandle gpumem.StaticHandle
	hasList    bool
	maxCount   int // NUM_CARS_PER_TILE

	// slots[i] is the occupying vehicle's ECS ref, or a zero ref if empty.
	slots []ecs.InstanceRef
	occupied []bool
	liveCount int

	// shadow mirrors the instance-list GPU buffer content: slot 0 carries
	// the live count, slots[1:] carry each vehicle's GPU slot index (or
	// 0xFFFFFFFF for an empty slot), exactly as spec.md §4.7 describes.
	shadow []uint32
}

func (t *Tile) ZoneID() ecs.ZoneID  { return t.zone }
func (t *Tile) WorldPos() WorldPos  { return t.worldPos }
func (t *Tile) Bounds() geom.AABB   { return t.bounds }
func (t *Tile) LiveCount() int      { return t.liveCount }
func (t *Tile) Activated() bool     { return t.activated }
func (t *Tile) ShadowInstanceList() []uint32 { return t.shadow }

// Manager owns the vehicle-tile ring plus the invalidation sets that
// drive incremental instance-list patching (spec.md §4.7).
type Manager struct {
	cfg  config.Config
	slab *gpumem.Slab
	cq   *gpumem.CopyQueue // optional; nil disables GPU upload staging

	mu   sync.Mutex
	k    int
	ring []*Tile

	invalidatedZones  map[ecs.ZoneID]bool
	invalidatedBlocks map[ecs.ZoneID]map[int]bool

	nextZone ecs.ZoneID
}

func NewManager(cfg config.Config, slab *gpumem.Slab, cq *gpumem.CopyQueue) *Manager {
	k := cfg.TrafficRingK
	if k%2 == 0 {
		k++
	}
	m := &Manager{
		cfg: cfg, slab: slab, cq: cq, k: k,
		invalidatedZones:  make(map[ecs.ZoneID]bool),
		invalidatedBlocks: make(map[ecs.ZoneID]map[int]bool),
	}
	m.ring = make([]*Tile, k*k)
	for i := range m.ring {
		m.ring[i] = &Tile{}
	}
	return m
}

func mod(a, b int) int {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}

func (m *Manager) localIndex(world WorldPos) int {
	li := mod(int(world.I), m.k)
	lj := mod(int(world.J), m.k)
	return lj*m.k + li
}

func (m *Manager) radius() int { return (m.k - 1) / 2 }

// SetCameraTile recenters the vehicle ring; any slot whose occupant no
// longer matches its world tile is rewritten wholesale.
func (m *Manager) SetCameraTile(cam WorldPos) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for di := -m.radius(); di <= m.radius(); di++ {
		for dj := -m.radius(); dj <= m.radius(); dj++ {
			world := WorldPos{I: cam.I + int32(di), J: cam.J + int32(dj)}
			idx := m.localIndex(world)
			t := m.ring[idx]
			if t.activated && t.worldPos == world {
				continue
			}
			m.recreateTile(t, world)
		}
	}
}

func (m *Manager) recreateTile(t *Tile, world WorldPos) {
	if t.hasList {
		m.slab.Dealloc(t.listHandle, 0)
		t.hasList = false
	}
	t.worldPos = world
	t.zone = m.nextZone
	m.nextZone++
	t.maxCount = m.cfg.CarsPerTile
	t.slots = make([]ecs.InstanceRef, t.maxCount)
	t.occupied = make([]bool, t.maxCount)
	t.liveCount = 0
	t.shadow = make([]uint32, 2*t.maxCount)
	for i := range t.shadow {
		t.shadow[i] = 0xFFFFFFFF
	}
	t.shadow[0] = 0

	half := m.cfg.TileSize / 2
	center := mgl32.Vec3{float32(world.I) * m.cfg.TileSize, float32(world.J) * m.cfg.TileSize, 0}
	t.bounds = geom.NewAABB(
		center.Sub(mgl32.Vec3{half, half, m.cfg.TopBandAltitude}),
		center.Add(mgl32.Vec3{half, half, m.cfg.TopBandAltitude}),
	)

	handle, err := m.slab.Alloc(2 * t.maxCount * 4)
	if err == nil {
		t.listHandle = handle
		t.hasList = true
	}
	t.activated = true

	delete(m.invalidatedZones, t.zone)
	delete(m.invalidatedBlocks, t.zone)
}

// TileAt returns the ring slot currently holding world, if any.
func (m *Manager) TileAt(world WorldPos) (*Tile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ring[m.localIndex(world)]
	if !t.activated || t.worldPos != world {
		return nil, false
	}
	return t, true
}

// AddVehicle assigns ref its first free slot in t, returning the slot
// index (the "GPU slot index" spec.md's instance-list patching refers
// to), or ok=false if the tile is full.
func (m *Manager) AddVehicle(t *Tile, ref ecs.InstanceRef) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, occ := range t.occupied {
		if !occ {
			t.occupied[i] = true
			t.slots[i] = ref
			t.liveCount++
			m.registerECSChangeLocked(t.zone, i)
			m.invalidatedZones[t.zone] = true
			return i, true
		}
	}
	return 0, false
}

// RemoveVehicle frees slot in t.
func (m *Manager) RemoveVehicle(t *Tile, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !t.occupied[slot] {
		return
	}
	t.occupied[slot] = false
	t.slots[slot] = ecs.InstanceRef{}
	t.liveCount--
	m.registerECSChangeLocked(t.zone, slot)
	m.invalidatedZones[t.zone] = true
}

// RegisterECSChange is the entity store's transaction callback hook
// (spec.md §4.7): every vehicle affected by a deletion or move marks its
// zone's instance-list block dirty.
func (m *Manager) RegisterECSChange(zone ecs.ZoneID, instanceIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerECSChangeLocked(zone, instanceIndex)
}

func (m *Manager) registerECSChangeLocked(zone ecs.ZoneID, instanceIndex int) {
	blocks, ok := m.invalidatedBlocks[zone]
	if !ok {
		blocks = make(map[int]bool)
		m.invalidatedBlocks[zone] = blocks
	}
	// shadow[0] holds the live count, so slot i's entry is shadow[i+1].
	blocks[(instanceIndex+1)/blockSize] = true
}

// ProcessCarMoves runs once per frame after the entity store's tick: for
// every invalidated block it recomputes its up-to-4 uint32 values from
// the tile's current live vehicle slots and stages the write (spec.md
// §4.7). frame is the producing frame tag for any staged GPU copy.
func (m *Manager) ProcessCarMoves(frame uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for zone := range m.invalidatedZones {
		t := m.tileForZoneLocked(zone)
		if t == nil {
			continue
		}
		if t.shadow[0] != uint32(t.liveCount) {
			t.shadow[0] = uint32(t.liveCount)
			blocks, ok := m.invalidatedBlocks[zone]
			if !ok {
				blocks = make(map[int]bool)
				m.invalidatedBlocks[zone] = blocks
			}
			blocks[0] = true
		}
	}

	for zone, blocks := range m.invalidatedBlocks {
		t := m.tileForZoneLocked(zone)
		if t == nil {
			continue
		}
		sorted := make([]int, 0, len(blocks))
		for b := range blocks {
			sorted = append(sorted, b)
		}
		sort.Ints(sorted)
		for _, block := range sorted {
			m.refreshBlock(t, block, frame)
		}
	}

	m.invalidatedZones = make(map[ecs.ZoneID]bool)
	m.invalidatedBlocks = make(map[ecs.ZoneID]map[int]bool)
}

func (m *Manager) refreshBlock(t *Tile, block int, frame uint64) {
	base := block * blockSize
	for k := 0; k < blockSize; k++ {
		slotIdx := base + k - 1 // shadow[0] is the live count, so vehicle slots start at shadow[1]
		if slotIdx < 0 {
			continue // handled by the live-count write above
		}
		if slotIdx >= t.maxCount {
			continue
		}
		if t.occupied[slotIdx] {
			t.shadow[base+k] = uint32(slotIdx)
		} else {
			t.shadow[base+k] = 0xFFFFFFFF
		}
	}
	if m.cq != nil && t.hasList {
		bytes := make([]byte, blockSize*4)
		for k := 0; k < blockSize; k++ {
			v := t.shadow[base+k]
			bytes[k*4+0] = byte(v)
			bytes[k*4+1] = byte(v >> 8)
			bytes[k*4+2] = byte(v >> 16)
			bytes[k*4+3] = byte(v >> 24)
		}
		_ = m.cq.UpdateStatic(0, t.listHandle, bytes, frame, base*4)
	}
}

func (m *Manager) tileForZoneLocked(zone ecs.ZoneID) *Tile {
	for _, t := range m.ring {
		if t.activated && t.zone == zone {
			return t
		}
	}
	return nil
}

// ToroidalFixup offsets position, target and last-target by the signed
// tile delta times tile size, keeping a vehicle's AABB-inside-its-tile
// invariant true across a world-tile jump (spec.md §4.7).
func ToroidalFixup(position, target, lastTarget mgl32.Vec3, sourceTile, targetTile WorldPos, tileSize float32) (mgl32.Vec3, mgl32.Vec3, mgl32.Vec3) {
	offset := mgl32.Vec3{
		float32(targetTile.I-sourceTile.I) * tileSize,
		float32(targetTile.J-sourceTile.J) * tileSize,
		0,
	}
	return position.Add(offset), target.Add(offset), lastTarget.Add(offset)
}

// WorldTileOf returns the world tile containing position.
func WorldTileOf(position mgl32.Vec3, tileSize float32) WorldPos {
	return WorldPos{
		I: int32(math.Floor(float64(position.X() / tileSize))),
		J: int32(math.Floor(float64(position.Y() / tileSize))),
	}
}
