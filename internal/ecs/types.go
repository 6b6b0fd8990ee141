// Package ecs implements the archetype x zone entity store from
// spec.md §3/§4.4 (C4): a 3D grid keyed by (zone, archetype, component)
// whose cells are column-major component arrays, a per-worker
// indirection table producing stable InstanceRef handles, and
// tick()-serialized deferred create/delete/zone-move queues.
//
// Grounded on the teacher's ecs.go/ecs_query.go archetype-map + reflect
// column pattern, generalized with the explicit zone dimension and
// per-worker indirection table spec.md requires, and on
// original_source/engine/ecs/entity_component_system.h for the
// zone/archetype cell layout and tick() semantics.
package ecs

// ComponentID identifies one of the fixed, closed set of component kinds.
type ComponentID int

// ArchetypeID identifies one of the fixed, closed set of archetypes.
type ArchetypeID int

// ZoneID partitions entity storage into coarse spatial buckets, 1:1 with
// tile indices.
type ZoneID int32

// FreeZone is the reserved sentinel marking a free indirection slot.
const FreeZone ZoneID = -1

// InstanceRef is the stable opaque handle identifying an entity across
// dense-array swaps and zone moves: an (worker, slot) pair indexing a
// per-worker indirection table.
type InstanceRef struct {
	WorkerID int32
	Slot     int32
}

// IsFree reports the zero-value "no entity" ref, used as a sentinel in
// fixed-size caches (e.g. the vehicle nearest-building cache).
func (r InstanceRef) IsFree() bool { return r.WorkerID == 0 && r.Slot == 0 }

// BackPointer is the hidden back-reference component every archetype
// carries so that a dense-row swap or zone move can repair the
// indirection table entry pointing at it. spec.md §9 asks that this be
// an explicit schema member rather than a silent mutation performed at
// store-construction time; Schema.RegisterArchetype enforces that explicitly by
// requiring every ArchetypeDef to list BackPointerComponent.
type BackPointer struct {
	Ref InstanceRef
}

// BackPointerComponent is the reserved, well-known component id every
// archetype must declare.
const BackPointerComponent ComponentID = 0
