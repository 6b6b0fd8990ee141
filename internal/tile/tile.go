// Package tile implements the building-tile streaming manager (spec.md
// C6): a K×K toroidal ring of tiles around the camera, deterministic
// per-tile procedural generation, LOD spawn/despawn into GPU memory, and
// the two-BVH-per-tile query pattern.
//
// Grounded on original_source/box_city/box_city_tile.h's Tile/LODGroup
// state machine and box_city_tile_manager.h's ring, adapted onto
// internal/bvh, internal/gpumem and internal/ecs.
package tile

import (
	"math/rand"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/boxcity/boxcity/internal/bvh"
	"github.com/boxcity/boxcity/internal/config"
	"github.com/boxcity/boxcity/internal/ecs"
	"github.com/boxcity/boxcity/internal/geom"
	"github.com/boxcity/boxcity/internal/gpumem"
)

// LODGroup classifies an accepted building for spawn/despawn and LOD
// transitions (original_source/box_city/box_city_tile.h's LODGroup).
type LODGroup int

const (
	LODTopBuildings LODGroup = iota
	LODTopPanels
	LODRest
	lodGroupCount
)

// lodMask mirrors box_city_tile.h's kLodMask: LOD0 shows every group,
// LOD1 drops Rest, LOD2 shows only TopBuildings.
var lodMask = [3]uint32{
	1<<LODTopBuildings | 1<<LODTopPanels | 1<<LODRest,
	1<<LODTopBuildings | 1<<LODTopPanels,
	1 << LODTopBuildings,
}

type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateVisible
)

// WorldPos is a tile's position in the infinite world tile grid.
type WorldPos struct{ I, J int32 }

// Building is one accepted candidate box within a tile.
type Building struct {
	OBB       geom.OBB
	AABB      geom.AABB
	Dynamic   bool
	AnimRange float32
	Group     LODGroup
	Ref       ecs.InstanceRef // valid only once spawned at LOD 0
	hasRef    bool
}

const instanceGPUSize = 64 // slab bytes reserved per building instance record

// Tile is one slot of the manager's ring.
type Tile struct {
	mu       sync.Mutex
	state    State
	zone     ecs.ZoneID
	worldPos WorldPos
	lod      int

	bounds  geom.AABB // grows to enclose every accepted box
	boxes   []Building
	fullBVH *bvh.BVH // every accepted box, LOD-independent
	liveBVH *bvh.BVH // LOD-0 only, over live building InstanceRefs

	targets [4][4][4]mgl32.Vec3

	groupAlloc    [lodGroupCount]gpumem.StaticHandle
	groupHasAlloc [lodGroupCount]bool
	groupList     [lodGroupCount]gpumem.StaticHandle
	groupHasList  [lodGroupCount]bool
	groupIndices  [lodGroupCount][]int // indices into boxes for this group
}

func (t *Tile) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tile) IsLoaded() bool {
	s := t.State()
	return s == StateLoaded || s == StateVisible
}

func (t *Tile) WorldPos() WorldPos { return t.worldPos }
func (t *Tile) Bounds() geom.AABB  { return t.bounds }
func (t *Tile) CurrentLOD() int    { return t.lod }

// SpawnFn allocates an ECS entity for a generated building, returning its
// stable ref; DespawnFn releases it. The tile manager is kept decoupled
// from a concrete ecs.Store by taking these as callbacks.
type SpawnFn func(zone ecs.ZoneID, b Building) ecs.InstanceRef
type DespawnFn func(ref ecs.InstanceRef)

// Manager owns the K×K toroidal ring of building tiles (spec.md §4.6).
type Manager struct {
	cfg     config.Config
	slab    *gpumem.Slab
	onSpawn SpawnFn
	onDespawn DespawnFn

	k        int
	ring     []*Tile
	camera   WorldPos
	nextZone ecs.ZoneID
}

func NewManager(cfg config.Config, slab *gpumem.Slab, onSpawn SpawnFn, onDespawn DespawnFn) *Manager {
	k := cfg.BuildingRingK
	if k%2 == 0 {
		k++
	}
	m := &Manager{cfg: cfg, slab: slab, onSpawn: onSpawn, onDespawn: onDespawn, k: k}
	m.ring = make([]*Tile, k*k)
	for i := range m.ring {
		m.ring[i] = &Tile{state: StateUnloaded}
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

// radius is the half-width of the ring, (K-1)/2.
func (m *Manager) radius() int { return (m.k - 1) / 2 }

// SetCameraTile recenters the ring on the camera's current world tile,
// regenerating any slot whose occupant no longer matches the world tile
// it should hold (spec.md §4.6's boundary-crossing re-generation rule).
func (m *Manager) SetCameraTile(cam WorldPos) {
	m.camera = cam
	for di := -m.radius(); di <= m.radius(); di++ {
		for dj := -m.radius(); dj <= m.radius(); dj++ {
			if maxAbs(di, dj) > m.radius() {
				continue
			}
			world := WorldPos{I: cam.I + int32(di), J: cam.J + int32(dj)}
			idx := m.localIndex(world)
			t := m.ring[idx]
			t.mu.Lock()
			mismatch := t.state == StateUnloaded || t.worldPos != world
			t.mu.Unlock()
			if mismatch {
				m.regenerate(t, world)
			}
		}
	}
}

func maxAbs(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

// TileAt returns the ring slot currently holding world, if any.
func (m *Manager) TileAt(world WorldPos) (*Tile, bool) {
	t := m.ring[m.localIndex(world)]
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.worldPos != world || t.state == StateUnloaded {
		return nil, false
	}
	return t, true
}

// seedFor derives a deterministic per-tile seed from world coordinates,
// so generation never depends on load order (spec.md §4.6 "deterministic,
// per-tile seeded").
func seedFor(world WorldPos) int64 {
	return int64(world.I)*1000003 + int64(world.J)*7919
}

func targetGrid(world WorldPos, cfg config.Config) [4][4][4]mgl32.Vec3 {
	rng := rand.New(rand.NewSource(seedFor(world) ^ 0x7A6C6574))
	sub := cfg.TileSize / 4
	originX, originY := float32(world.I)*cfg.TileSize, float32(world.J)*cfg.TileSize
	var grid [4][4][4]mgl32.Vec3
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			for z := 0; z < 4; z++ {
				cellMin := mgl32.Vec3{
					originX + float32(x)*sub - cfg.TileSize/2,
					originY + float32(y)*sub - cfg.TileSize/2,
					float32(z) * cfg.TopBandAltitude / 4,
				}
				offset := mgl32.Vec3{
					rng.Float32() * sub,
					rng.Float32() * sub,
					rng.Float32() * cfg.TopBandAltitude / 4,
				}
				grid[x][y][z] = cellMin.Add(offset)
			}
		}
	}
	return grid
}

// neighborDirs is the six-neighbor offset table a target's neighbors are
// resolved against, within the grid first and across a tile boundary
// otherwise.
var neighborDirs = [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}

// NeighborTarget resolves the k-th neighbor (k in [0,6)) of traffic
// target (ix,iy,iz) in tile world, recomputing the neighbor tile's grid
// deterministically rather than requiring it to be loaded.
func NeighborTarget(world WorldPos, ix, iy, iz, k int, cfg config.Config) mgl32.Vec3 {
	d := neighborDirs[k%6]
	nx, ny, nz := ix+d[0], iy+d[1], iz+d[2]
	nw := world
	if nx < 0 {
		nx += 4
		nw.I--
	} else if nx >= 4 {
		nx -= 4
		nw.I++
	}
	if ny < 0 {
		ny += 4
		nw.J--
	} else if ny >= 4 {
		ny -= 4
		nw.J++
	}
	if nz < 0 {
		nz = 0
	} else if nz >= 4 {
		nz = 3
	}
	grid := targetGrid(nw, cfg)
	return grid[nx][ny][nz]
}

const corridorThreshold = 0.15

// classifyZone decides whether a local position falls in a non-buildable
// "corridor", deterministically from position (original_source's
// zone_descriptor lookup).
func classifyZone(local mgl32.Vec3, cfg config.Config) (corridor bool, descriptor int) {
	u := (local.X()/cfg.TileSize + 0.5)
	v := (local.Y()/cfg.TileSize + 0.5)
	cellU := u * 4
	cellV := v * 4
	fu := cellU - float32(int(cellU))
	fv := cellV - float32(int(cellV))
	if fu < corridorThreshold || fv < corridorThreshold {
		return true, 0
	}
	descriptor = (int(cellU)&3)*4 + (int(cellV) & 3)
	return false, descriptor
}

const animDynamicThreshold = 2.0

func (m *Manager) regenerate(t *Tile, world WorldPos) {
	t.mu.Lock()
	t.state = StateLoading
	t.worldPos = world
	t.zone = m.nextZone
	m.nextZone++
	t.boxes = t.boxes[:0]
	half := m.cfg.TileSize / 2
	center := mgl32.Vec3{float32(world.I) * m.cfg.TileSize, float32(world.J) * m.cfg.TileSize, 0}
	t.bounds = geom.NewAABB(
		center.Sub(mgl32.Vec3{half, half, m.cfg.TopBandAltitude}),
		center.Add(mgl32.Vec3{half, half, m.cfg.TopBandAltitude}),
	)
	t.targets = targetGrid(world, m.cfg)

	rng := rand.New(rand.NewSource(seedFor(world)))
	for attempt := 0; attempt < m.cfg.GenerationAttempts; attempt++ {
		local := mgl32.Vec3{
			(rng.Float32() - 0.5) * m.cfg.TileSize,
			(rng.Float32() - 0.5) * m.cfg.TileSize,
			0,
		}
		corridor, _ := classifyZone(local, m.cfg)
		if corridor {
			continue
		}

		halfExt := mgl32.Vec3{
			5 + rng.Float32()*15,
			5 + rng.Float32()*15,
			10 + rng.Float32()*60,
		}
		animRange := rng.Float32() * 4
		dynamic := animRange > animDynamicThreshold
		if dynamic {
			halfExt[2] += animRange
		}
		worldPos := center.Add(local).Add(mgl32.Vec3{0, 0, halfExt.Z()})
		obb := geom.OBB{Center: worldPos, HalfExtents: halfExt, Rotation: mgl32.QuatIdent()}
		aabb := obb.AABB()

		if m.overlapsAnyTarget(t, aabb) {
			continue
		}
		if overlapsAny(t.boxes, aabb) {
			continue
		}
		if m.overlapsLoadedNeighbors(t, aabb) {
			continue
		}

		group := LODRest
		if aabb.Max.Z() >= m.cfg.TopBandAltitude {
			group = LODTopBuildings
		}
		t.boxes = append(t.boxes, Building{OBB: obb, AABB: aabb, Dynamic: dynamic, AnimRange: animRange, Group: group})
		t.bounds = t.bounds.Grow(aabb)
	}

	items := make([]bvh.Item, len(t.boxes))
	for i, b := range t.boxes {
		items[i] = bvh.Item{Bounds: b.AABB, Data: int32(i)}
	}
	t.fullBVH = bvh.Build(items)

	for g := range t.groupIndices {
		t.groupIndices[g] = t.groupIndices[g][:0]
	}
	for i, b := range t.boxes {
		t.groupIndices[b.Group] = append(t.groupIndices[b.Group], i)
	}

	t.state = StateLoaded
	t.lod = -1 // force LodTile to treat every group as newly covered
	t.mu.Unlock()

	m.LodTile(t, 0)
}

func overlapsAny(boxes []Building, aabb geom.AABB) bool {
	for _, b := range boxes {
		if b.AABB.Intersects(aabb) {
			return true
		}
	}
	return false
}

func (m *Manager) overlapsAnyTarget(t *Tile, aabb geom.AABB) bool {
	r := m.cfg.TrafficTargetClearRadius
	clear := mgl32.Vec3{r, r, r}
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			for z := 0; z < 4; z++ {
				p := t.targets[x][y][z]
				box := geom.NewAABB(p.Sub(clear), p.Add(clear))
				if box.Intersects(aabb) {
					return true
				}
			}
		}
	}
	return false
}

func (m *Manager) overlapsLoadedNeighbors(t *Tile, aabb geom.AABB) bool {
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			if di == 0 && dj == 0 {
				continue
			}
			neighbor, ok := m.TileAt(WorldPos{I: t.worldPos.I + int32(di), J: t.worldPos.J + int32(dj)})
			if !ok || !neighbor.IsLoaded() {
				continue
			}
			neighbor.mu.Lock()
			hit := overlapsAny(neighbor.boxes, aabb)
			neighbor.mu.Unlock()
			if hit {
				return true
			}
		}
	}
	return false
}

// LodTile transitions t to newLod, spawning groups newly covered by the
// new LOD mask and despawning groups newly uncovered (spec.md §4.6).
func (m *Manager) LodTile(t *Tile, newLod int) {
	t.mu.Lock()
	oldMask := uint32(0)
	if t.lod >= 0 {
		oldMask = lodMask[t.lod]
	}
	newMask := lodMask[newLod]
	t.lod = newLod
	t.mu.Unlock()

	for g := LODGroup(0); g < lodGroupCount; g++ {
		wasIn := oldMask&(1<<g) != 0
		isIn := newMask&(1<<g) != 0
		if isIn && !wasIn {
			m.spawnLodGroup(t, g)
		} else if wasIn && !isIn {
			m.despawnLodGroup(t, g)
		}
	}
	if newLod == 0 {
		m.buildLiveBVH(t)
	}
}

func (m *Manager) spawnLodGroup(t *Tile, g LODGroup) {
	t.mu.Lock()
	indices := append([]int(nil), t.groupIndices[g]...)
	count := len(indices)
	t.mu.Unlock()
	if count == 0 {
		return
	}

	alloc, err := m.slab.Alloc(count * instanceGPUSize)
	if err != nil {
		return
	}
	list, err := m.slab.Alloc((count + 1) * 4)
	if err != nil {
		m.slab.Dealloc(alloc, 0)
		return
	}

	t.mu.Lock()
	t.groupAlloc[g], t.groupHasAlloc[g] = alloc, true
	t.groupList[g], t.groupHasList[g] = list, true
	t.mu.Unlock()

	if g == LODTopBuildings || g == LODRest {
		for _, idx := range indices {
			t.mu.Lock()
			b := t.boxes[idx]
			t.mu.Unlock()
			if m.onSpawn == nil {
				continue
			}
			ref := m.onSpawn(t.zone, b)
			t.mu.Lock()
			t.boxes[idx].Ref = ref
			t.boxes[idx].hasRef = true
			t.mu.Unlock()
		}
	}
}

func (m *Manager) despawnLodGroup(t *Tile, g LODGroup) {
	t.mu.Lock()
	alloc, hasAlloc := t.groupAlloc[g], t.groupHasAlloc[g]
	list, hasList := t.groupList[g], t.groupHasList[g]
	indices := append([]int(nil), t.groupIndices[g]...)
	t.groupHasAlloc[g], t.groupHasList[g] = false, false
	t.mu.Unlock()

	if hasAlloc {
		m.slab.Dealloc(alloc, 0)
	}
	if hasList {
		m.slab.Dealloc(list, 0)
	}
	for _, idx := range indices {
		t.mu.Lock()
		b := t.boxes[idx]
		hasRef := b.hasRef
		t.boxes[idx].hasRef = false
		t.mu.Unlock()
		if hasRef && m.onDespawn != nil {
			m.onDespawn(b.Ref)
		}
	}
}

func (m *Manager) buildLiveBVH(t *Tile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := make([]bvh.Item, 0, len(t.boxes))
	for i, b := range t.boxes {
		if b.hasRef {
			items = append(items, bvh.Item{Bounds: b.AABB, Data: int32(i)})
		}
	}
	t.liveBVH = bvh.Build(items)
}

// VisitBuildings recurses the full-detail LBVH of every tile loaded at
// LOD 0 whose bounds intersect aabb, invoking visit with each candidate building
// (spec.md §4.6 "visit_buildings").
func (m *Manager) VisitBuildings(aabb geom.AABB, visit func(b Building) bool) {
	for _, t := range m.ring {
		t.mu.Lock()
		loaded := t.IsLoaded0()
		bounds := t.bounds
		full := t.fullBVH
		boxes := t.boxes
		t.mu.Unlock()
		if !loaded || full == nil || !bounds.Intersects(aabb) {
			continue
		}
		stop := false
		full.Query(aabb, func(data int32) bool {
			if !visit(boxes[data]) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// IsLoaded0 reports whether the tile is loaded at LOD 0, the precondition
// for visit_buildings per spec.md §4.6.
func (t *Tile) IsLoaded0() bool {
	return (t.state == StateLoaded || t.state == StateVisible) && t.lod == 0
}

// LiveBVH returns the tile's LOD-0 BVH over live building InstanceRefs,
// used by the vehicle controller's nearest-building queries.
func (t *Tile) LiveBVH() *bvh.BVH {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveBVH
}

// TargetAt returns traffic target (ix,iy,iz) of t in world space.
func (t *Tile) TargetAt(ix, iy, iz int) mgl32.Vec3 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targets[ix][iy][iz]
}
