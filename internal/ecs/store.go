package ecs

import "sync"

type cellKey struct {
	zone ZoneID
	arch ArchetypeID
}

// cell is one (zone, archetype) storage grid cell: column-major component
// arrays sized to the cell's capacity.
type cell struct {
	mu           sync.Mutex
	columns      map[ComponentID]*column
	count        int32 // live rows visible to process()
	countCreated int32 // rows physically present, including this-frame allocs
}

// TransactionKind distinguishes the two structural mutations tick()
// applies, for the downstream transaction callback.
type TransactionKind int

const (
	TxDealloc TransactionKind = iota
	TxMove
)

// Transaction describes one structural change applied during tick(), the
// mechanism spec.md §4.4 says "is how downstream GPU instance lists learn
// of a moved vehicle".
type Transaction struct {
	Kind  TransactionKind
	Zone  ZoneID
	Arch  ArchetypeID
	Index int32

	HasSource bool
	FromZone  ZoneID
	FromArch  ArchetypeID
	FromIndex int32
}

type TransactionCallback func(Transaction)

type pendingMove struct {
	ref     InstanceRef
	newZone ZoneID
}

// Store is the archetype x zone entity store (spec.md §3/§4.4, C4).
type Store struct {
	schema      *Schema
	cellsMu     sync.Mutex
	cells       map[cellKey]*cell
	indirection []*indirectionTable

	queueMu sync.Mutex
	dealloc [][]InstanceRef
	moves   [][]pendingMove

	tickMu sync.Mutex
	onTx   TransactionCallback
}

func NewStore(schema *Schema, numWorkers int) *Store {
	s := &Store{
		schema:      schema,
		cells:       make(map[cellKey]*cell),
		indirection: make([]*indirectionTable, numWorkers),
		dealloc:     make([][]InstanceRef, numWorkers),
		moves:       make([][]pendingMove, numWorkers),
	}
	for i := range s.indirection {
		s.indirection[i] = newIndirectionTable()
	}
	return s
}

// OnTransaction registers the callback tick() fires for every structural
// change it applies.
func (s *Store) OnTransaction(cb TransactionCallback) { s.onTx = cb }

func (s *Store) fireTx(tx Transaction) {
	if s.onTx != nil {
		s.onTx(tx)
	}
}

func (s *Store) getOrCreateCell(key cellKey) *cell {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	c, ok := s.cells[key]
	if ok {
		return c
	}
	def, ok := s.schema.archetype(key.arch)
	if !ok {
		panic("ecs: unknown archetype")
	}
	c = &cell{columns: make(map[ComponentID]*column, len(def.Components))}
	for _, id := range def.Components {
		c.columns[id] = newColumn(s.schema.componentType(id))
	}
	s.cells[key] = c
	return c
}

// Alloc reserves a dense slot in (zone, archetype) and writes the back
// pointer. The row is immediately available for column writes but is not
// counted (visible to process()) until the next tick().
func (s *Store) Alloc(callerWorker int, zone ZoneID, arch ArchetypeID) InstanceRef {
	c := s.getOrCreateCell(cellKey{zone, arch})

	c.mu.Lock()
	index := c.countCreated
	for id, col := range c.columns {
		_ = id
		col.append()
	}
	c.countCreated++
	c.mu.Unlock()

	slot := s.indirection[callerWorker].alloc(zone, arch, index)
	ref := InstanceRef{WorkerID: int32(callerWorker), Slot: slot}

	c.mu.Lock()
	setTyped(c.columns[BackPointerComponent], int(index), BackPointer{Ref: ref})
	c.mu.Unlock()

	return ref
}

// Dealloc enqueues ref for removal; applied during the next tick(). A
// stale/already-freed ref is silently ignored at tick-time (spec.md §7).
func (s *Store) Dealloc(callerWorker int, ref InstanceRef) {
	s.queueMu.Lock()
	s.dealloc[callerWorker] = append(s.dealloc[callerWorker], ref)
	s.queueMu.Unlock()
}

// MoveZone enqueues a zone move for ref; a no-op if it is already in
// newZone, applied during the next tick().
func (s *Store) MoveZone(callerWorker int, ref InstanceRef, newZone ZoneID) {
	s.queueMu.Lock()
	s.moves[callerWorker] = append(s.moves[callerWorker], pendingMove{ref: ref, newZone: newZone})
	s.queueMu.Unlock()
}

func (s *Store) resolve(ref InstanceRef) (indirectEntry, bool) {
	if int(ref.WorkerID) >= len(s.indirection) {
		return indirectEntry{}, false
	}
	return s.indirection[ref.WorkerID].get(ref.Slot)
}

// removeRow deletes the dense row at index within (zone,arch), swapping
// the cell's last row into the hole and repairing that entity's
// back-pointer / indirection entry, matching spec.md §4.4's tick()
// description. Returns whether a swap occurred.
func (s *Store) removeRow(key cellKey, index int32) (swapped bool) {
	c := s.cells[key]
	c.mu.Lock()
	defer c.mu.Unlock()

	lastIdx := c.countCreated - 1
	if index != lastIdx {
		def, _ := s.schema.archetype(key.arch)
		for _, id := range def.Components {
			c.columns[id].swapLast(int(index), int(lastIdx))
		}
		moved := getTyped[BackPointer](c.columns[BackPointerComponent], int(index)).Ref
		s.indirection[moved.WorkerID].setIndex(moved.Slot, key.zone, key.arch, index)
		swapped = true
	}
	def, _ := s.schema.archetype(key.arch)
	for _, id := range def.Components {
		c.columns[id].truncateLast()
	}
	c.countCreated--
	return swapped
}

// Tick is the serialization point: it drains every worker's dealloc queue,
// then every worker's move queue, then republishes count = countCreated
// for every cell (spec.md §4.4, §5 "Ordering").
func (s *Store) Tick() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.queueMu.Lock()
	dealloc := s.dealloc
	moves := s.moves
	s.dealloc = make([][]InstanceRef, len(s.dealloc))
	s.moves = make([][]pendingMove, len(s.moves))
	s.queueMu.Unlock()

	for _, workerQueue := range dealloc {
		for _, ref := range workerQueue {
			entry, ok := s.resolve(ref)
			if !ok {
				continue // double-dealloc / stale ref: ignored
			}
			key := cellKey{entry.zone, entry.arch}
			s.removeRow(key, entry.index)
			s.fireTx(Transaction{Kind: TxDealloc, Zone: entry.zone, Arch: entry.arch, Index: entry.index})
			s.indirection[ref.WorkerID].free(ref.Slot)
		}
	}

	for _, workerQueue := range moves {
		for _, pm := range workerQueue {
			entry, ok := s.resolve(pm.ref)
			if !ok {
				continue
			}
			if entry.zone == pm.newZone {
				continue // already in target zone
			}

			srcKey := cellKey{entry.zone, entry.arch}
			dstKey := cellKey{pm.newZone, entry.arch}
			dst := s.getOrCreateCell(dstKey)
			src := s.cells[srcKey]

			dst.mu.Lock()
			dstIndex := dst.countCreated
			def, _ := s.schema.archetype(entry.arch)
			src.mu.Lock()
			for _, id := range def.Components {
				val := src.columns[id].get(int(entry.index))
				dst.columns[id].append()
				dst.columns[id].set(int(dstIndex), val)
			}
			src.mu.Unlock()
			dst.countCreated++
			dst.mu.Unlock()

			s.indirection[pm.ref.WorkerID].setIndex(pm.ref.Slot, pm.newZone, entry.arch, dstIndex)

			fromZone, fromArch, fromIndex := entry.zone, entry.arch, entry.index
			swapped := s.removeRow(srcKey, entry.index)

			s.fireTx(Transaction{
				Kind: TxMove, Zone: pm.newZone, Arch: entry.arch, Index: dstIndex,
				HasSource: true, FromZone: fromZone, FromArch: fromArch, FromIndex: fromIndex,
			})
			if swapped {
				s.fireTx(Transaction{Kind: TxDealloc, Zone: fromZone, Arch: fromArch, Index: fromIndex})
			}
		}
	}

	for _, c := range s.cells {
		c.mu.Lock()
		c.count = c.countCreated
		c.mu.Unlock()
	}
}

// Count returns the live (visible) row count for (zone, archetype).
func (s *Store) Count(zone ZoneID, arch ArchetypeID) int32 {
	s.cellsMu.Lock()
	c, ok := s.cells[cellKey{zone, arch}]
	s.cellsMu.Unlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// CountCreated returns the physically-present row count (including
// this-frame allocations not yet visible), for boundary-behavior tests.
func (s *Store) CountCreated(zone ZoneID, arch ArchetypeID) int32 {
	s.cellsMu.Lock()
	c, ok := s.cells[cellKey{zone, arch}]
	s.cellsMu.Unlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countCreated
}

// GetRef resolves ref to its current dense location, for invariant tests
// (spec.md §8 property 1: indirection bijectivity).
func (s *Store) GetRef(ref InstanceRef) (zone ZoneID, arch ArchetypeID, index int32, ok bool) {
	e, ok := s.resolve(ref)
	return e.zone, e.arch, e.index, ok
}

// SetComponent writes value into the column for id at ref's current row.
func SetComponent[T any](s *Store, ref InstanceRef, id ComponentID, value T) {
	e, ok := s.resolve(ref)
	if !ok {
		return
	}
	c := s.cells[cellKey{e.zone, e.arch}]
	c.mu.Lock()
	setTyped(c.columns[id], int(e.index), value)
	c.mu.Unlock()
}

// GetComponent reads the column for id at ref's current row.
func GetComponent[T any](s *Store, ref InstanceRef, id ComponentID) (T, bool) {
	var zero T
	e, ok := s.resolve(ref)
	if !ok {
		return zero, false
	}
	c := s.cells[cellKey{e.zone, e.arch}]
	c.mu.Lock()
	v := getTyped[T](c.columns[id], int(e.index))
	c.mu.Unlock()
	return v, true
}
