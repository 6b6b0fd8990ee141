package ecs

// ZoneBitset selects which zones a process<Q> pass should visit (spec.md
// §4.4: "process<Q> kernels are invoked ... restricted to a zone
// bitset"). The zero value selects no zones; use AllZones for an
// unrestricted pass.
type ZoneBitset struct {
	all  bool
	set  map[ZoneID]struct{}
}

// AllZones returns a bitset matching every zone.
func AllZones() ZoneBitset { return ZoneBitset{all: true} }

// Zones returns a bitset matching exactly the given zones.
func Zones(zones ...ZoneID) ZoneBitset {
	b := ZoneBitset{set: make(map[ZoneID]struct{}, len(zones))}
	for _, z := range zones {
		b.set[z] = struct{}{}
	}
	return b
}

func (b ZoneBitset) Has(zone ZoneID) bool {
	if b.all {
		return true
	}
	_, ok := b.set[zone]
	return ok
}

// Iterator is handed to every process<Q> kernel invocation, exposing the
// current row's identity and the structural operations (dealloc, zone
// move) a kernel may request; those operations are deferred to the next
// Tick() rather than applied in place.
type Iterator struct {
	store  *Store
	worker int
	zone   ZoneID
	arch   ArchetypeID
	index  int32
	ref    InstanceRef
}

func (it *Iterator) Ref() InstanceRef    { return it.ref }
func (it *Iterator) Zone() ZoneID        { return it.zone }
func (it *Iterator) Archetype() ArchetypeID { return it.arch }

// Is reports whether the current row's archetype is arch.
func (it *Iterator) Is(arch ArchetypeID) bool { return it.arch == arch }

// Contains reports whether the current row's archetype carries component c.
func (it *Iterator) Contains(c ComponentID) bool {
	def, _ := it.store.schema.archetype(it.arch)
	return def.Has(c)
}

// Dealloc enqueues removal of the current row, applied at the next Tick().
func (it *Iterator) Dealloc() { it.store.Dealloc(it.worker, it.ref) }

// MoveZone enqueues a zone move of the current row, applied at the next Tick().
func (it *Iterator) MoveZone(newZone ZoneID) { it.store.MoveZone(it.worker, it.ref, newZone) }

func visit(s *Store, zones ZoneBitset, components []ComponentID, visitRow func(key cellKey, index int32, ref InstanceRef)) {
	s.cellsMu.Lock()
	keys := make([]cellKey, 0, len(s.cells))
	for k := range s.cells {
		keys = append(keys, k)
	}
	s.cellsMu.Unlock()

	for _, key := range keys {
		if !zones.Has(key.zone) {
			continue
		}
		def, ok := s.schema.archetype(key.arch)
		if !ok || !def.HasAll(components...) {
			continue
		}
		c := s.cells[key]
		c.mu.Lock()
		count := c.count
		bp := c.columns[BackPointerComponent]
		refs := make([]InstanceRef, count)
		for i := int32(0); i < count; i++ {
			refs[i] = getTyped[BackPointer](bp, int(i)).Ref
		}
		c.mu.Unlock()

		for i := int32(0); i < count; i++ {
			visitRow(key, i, refs[i])
		}
	}
}

func readComponent[T any](s *Store, key cellKey, index int32, id ComponentID) T {
	c := s.cells[key]
	c.mu.Lock()
	defer c.mu.Unlock()
	return getTyped[T](c.columns[id], int(index))
}

// Process1 invokes kernel for every row in a zone-restricted, single
// component query (spec.md §4.4's process<Q>).
func Process1[A any](s *Store, worker int, compA ComponentID, zones ZoneBitset, kernel func(it *Iterator, a *A)) {
	visit(s, zones, []ComponentID{compA}, func(key cellKey, index int32, ref InstanceRef) {
		it := &Iterator{store: s, worker: worker, zone: key.zone, arch: key.arch, index: index, ref: ref}
		a := readComponent[A](s, key, index, compA)
		kernel(it, &a)
		writeComponent(s, key, index, compA, a)
	})
}

// Process2 is Process1 over two required components.
func Process2[A, B any](s *Store, worker int, compA, compB ComponentID, zones ZoneBitset, kernel func(it *Iterator, a *A, b *B)) {
	visit(s, zones, []ComponentID{compA, compB}, func(key cellKey, index int32, ref InstanceRef) {
		it := &Iterator{store: s, worker: worker, zone: key.zone, arch: key.arch, index: index, ref: ref}
		a := readComponent[A](s, key, index, compA)
		b := readComponent[B](s, key, index, compB)
		kernel(it, &a, &b)
		writeComponent(s, key, index, compA, a)
		writeComponent(s, key, index, compB, b)
	})
}

// Process3 is Process1 over three required components.
func Process3[A, B, C any](s *Store, worker int, compA, compB, compC ComponentID, zones ZoneBitset, kernel func(it *Iterator, a *A, b *B, c *C)) {
	visit(s, zones, []ComponentID{compA, compB, compC}, func(key cellKey, index int32, ref InstanceRef) {
		it := &Iterator{store: s, worker: worker, zone: key.zone, arch: key.arch, index: index, ref: ref}
		a := readComponent[A](s, key, index, compA)
		b := readComponent[B](s, key, index, compB)
		c := readComponent[C](s, key, index, compC)
		kernel(it, &a, &b, &c)
		writeComponent(s, key, index, compA, a)
		writeComponent(s, key, index, compB, b)
		writeComponent(s, key, index, compC, c)
	})
}

func writeComponent[T any](s *Store, key cellKey, index int32, id ComponentID, value T) {
	c := s.cells[key]
	c.mu.Lock()
	setTyped(c.columns[id], int(index), value)
	c.mu.Unlock()
}
