package gpumem

import "errors"

var ErrSegmentTooLarge = errors.New("gpumem: allocation exceeds segment size, caller must split")

// DynamicHandle identifies a dynamic-ring allocation, valid only for the
// producing frame and the GPU frames until the GPU finishes that CPU
// frame (spec.md §4.3 contracts).
type DynamicHandle struct {
	segment int
	offset  int
	size    int
}

func (h DynamicHandle) Segment() int { return h.segment }
func (h DynamicHandle) Offset() int  { return h.offset }
func (h DynamicHandle) Size() int    { return h.size }

type segment struct {
	used            int
	producingFrame  uint64
	open            bool
}

// SegmentRing is the dynamic per-frame ring: backing split into S
// segments of segSize bytes each (spec.md §4.2 "Segment allocator").
type SegmentRing struct {
	segSize  int
	segments []segment
	openIdx  int
}

func NewSegmentRing(numSegments, segSize int) *SegmentRing {
	return &SegmentRing{
		segSize:  segSize,
		segments: make([]segment, numSegments),
		openIdx:  -1,
	}
}

func (r *SegmentRing) SegmentSize() int { return r.segSize }

// Alloc reserves size bytes tagged with frame. size must not exceed
// segSize — the caller (the GPU copy layer) is responsible for splitting
// larger payloads across multiple Alloc calls.
func (r *SegmentRing) Alloc(size int, frame uint64) (DynamicHandle, error) {
	size = alignUp(size)
	if size > r.segSize {
		return DynamicHandle{}, ErrSegmentTooLarge
	}

	if r.openIdx >= 0 {
		s := &r.segments[r.openIdx]
		if s.open && s.producingFrame == frame && s.used+size <= r.segSize {
			off := s.used
			s.used += size
			return DynamicHandle{segment: r.openIdx, offset: off, size: size}, nil
		}
	}

	idx, err := r.openNewSegment(frame)
	if err != nil {
		return DynamicHandle{}, err
	}
	s := &r.segments[idx]
	off := s.used
	s.used += size
	return DynamicHandle{segment: idx, offset: off, size: size}, nil
}

func (r *SegmentRing) openNewSegment(frame uint64) (int, error) {
	for i := range r.segments {
		if !r.segments[i].open {
			r.segments[i] = segment{open: true, producingFrame: frame}
			r.openIdx = i
			return i, nil
		}
	}
	return -1, errors.New("gpumem: no free segments, caller must Sync older frames first")
}

// Sync retires every segment whose producingFrame <= freedFrame so it can
// be reused by a later Alloc.
func (r *SegmentRing) Sync(freedFrame uint64) {
	for i := range r.segments {
		if r.segments[i].open && r.segments[i].producingFrame <= freedFrame {
			r.segments[i] = segment{}
			if r.openIdx == i {
				r.openIdx = -1
			}
		}
	}
}

func (r *SegmentRing) NumSegments() int { return len(r.segments) }

func (r *SegmentRing) OpenSegments() int {
	n := 0
	for _, s := range r.segments {
		if s.open {
			n++
		}
	}
	return n
}
