package gpumem

// CopyCommand records one (src,dst,bytes) chunk to be replayed by the
// compute kernel during SyncStaticGpu (spec.md §4.3 step 2). Src/Dst are
// expressed in 16-byte units, matching the external wire protocol §6.7.
type CopyCommand struct {
	SrcUnits int32
	DstUnits int32
	Bytes    int
}

// Slab is the static GPU buffer (backed by a FreeList) that
// update_static() writes into via the dynamic ring.
type Slab struct {
	free *FreeList
}

func NewSlab(capacity int) *Slab {
	return &Slab{free: NewFreeList(capacity)}
}

func (s *Slab) Alloc(size int) (StaticHandle, error)    { return s.free.Alloc(size) }
func (s *Slab) Dealloc(h StaticHandle, frame uint64)    { s.free.Dealloc(h, frame) }
func (s *Slab) Sync(gpuCompletedFrame uint64)           { s.free.Sync(gpuCompletedFrame) }
func (s *Slab) FreeBytes() int                          { return s.free.FreeBytes() }

// CopyQueue implements the compute-shader driven CPU→GPU copy path from
// spec.md §4.3: producers stage bytes into dynamic-ring segments, and the
// per-frame command list is packed and bounded by segment capacity at
// submit time.
type CopyQueue struct {
	ring        *SegmentRing
	perWorker   [][]CopyCommand
	dispatchCap int // max copies per dispatch (segment capacity / int2 size)
}

const int2Bytes = 8 // two int32s, the wire unit of §6.7 (packed in 16-byte units elsewhere)

func NewCopyQueue(ring *SegmentRing, numWorkers int) *CopyQueue {
	q := &CopyQueue{
		ring:      ring,
		perWorker: make([][]CopyCommand, numWorkers),
	}
	q.dispatchCap = ring.SegmentSize() / 16 // one int2-per-16-bytes slot
	return q
}

// UpdateStatic copies data into dynamic-ring segments (splitting across
// segment boundaries if needed) and records the (src,dst,bytes) chunks
// produced for workerIndex this frame.
func (q *CopyQueue) UpdateStatic(workerIndex int, dst StaticHandle, data []byte, frame uint64, dstOffset int) error {
	remaining := data
	srcCursor := 0
	for len(remaining) > 0 {
		segSize := q.ring.SegmentSize()
		chunk := remaining
		if len(chunk) > segSize {
			chunk = chunk[:segSize]
		}
		h, err := q.ring.Alloc(len(chunk), frame)
		if err != nil {
			return err
		}
		cmd := CopyCommand{
			SrcUnits: int32((h.segment*segSize + h.offset) / 16),
			DstUnits: int32((dst.offset + dstOffset + srcCursor) / 16),
			Bytes:    len(chunk),
		}
		q.perWorker[workerIndex] = append(q.perWorker[workerIndex], cmd)

		srcCursor += len(chunk)
		remaining = remaining[len(chunk):]
	}
	return nil
}

// Drain merges and clears every worker's per-frame command vector (the
// per-worker per-frame vectors spec.md §4.3 describes), for the submit
// phase to pack.
func (q *CopyQueue) Drain() []CopyCommand {
	var all []CopyCommand
	for i := range q.perWorker {
		all = append(all, q.perWorker[i]...)
		q.perWorker[i] = nil
	}
	return all
}

// DispatchPlan is Plan's result: the commands packed into (src,dst) int2
// pairs, the number of 64-thread groups those pairs fill, and the number
// of dispatches SyncStaticGpu must issue when each dispatch carries at
// most dispatchCap pairs (spec.md §4.3 step 2/3).
type DispatchPlan struct {
	Packed     [][2]int32 // (src,dst) pairs in 16-byte units
	GroupsOf64 int
	Dispatches int
}

const threadsPerGroup = 64

func (q *CopyQueue) Plan(commands []CopyCommand) DispatchPlan {
	packed := make([][2]int32, 0, len(commands))
	for _, c := range commands {
		units := c.Bytes / 16
		if c.Bytes%16 != 0 {
			units++
		}
		for u := 0; u < units; u++ {
			packed = append(packed, [2]int32{c.SrcUnits + int32(u), c.DstUnits + int32(u)})
		}
	}

	groups := (len(packed) + threadsPerGroup - 1) / threadsPerGroup
	maxPerDispatch := q.dispatchCap
	dispatches := 1
	if maxPerDispatch > 0 && len(packed) > maxPerDispatch {
		dispatches = (len(packed) + maxPerDispatch - 1) / maxPerDispatch
	}

	return DispatchPlan{Packed: packed, GroupsOf64: groups, Dispatches: dispatches}
}
