// Package gpumem implements the allocators and GPU memory subsystem from
// spec.md §4.2/§4.3 (C2, C3): virtual buffer, static-slab free list,
// dynamic-ring segment allocator, and the compute-shader copy queue.
// Grounded on original_source/engine/core/virtual_buffer.h and
// engine/render/internal/render_gpu_memory.h.
package gpumem

const pageSize = 4096

// VirtualBuffer reserves a large virtual range up front and tracks a
// committed prefix of it, the way the source reserves a large address
// range and commits pages on demand. A real OS-backed reservation is out
// of scope (no concrete GPU/OS allocator here); this models the
// reserve-large/commit-small contract purely as byte-range bookkeeping
// that callers (the free list, the segment ring) build on.
type VirtualBuffer struct {
	reserved  int
	committed int
}

// NewVirtualBuffer reserves reserveSize bytes (rounded up to a page).
func NewVirtualBuffer(reserveSize int) *VirtualBuffer {
	return &VirtualBuffer{reserved: roundUpPage(reserveSize)}
}

func roundUpPage(n int) int {
	if n <= 0 {
		return 0
	}
	return ((n + pageSize - 1) / pageSize) * pageSize
}

func (v *VirtualBuffer) Reserved() int  { return v.reserved }
func (v *VirtualBuffer) Committed() int { return v.committed }

// SetCommittedSize commits or decommits pages so exactly n bytes (rounded
// up to a page) are backed. The reservation never moves or grows beyond
// Reserved().
func (v *VirtualBuffer) SetCommittedSize(n int) bool {
	rounded := roundUpPage(n)
	if rounded > v.reserved {
		return false
	}
	v.committed = rounded
	return true
}

// Grow commits additional bytes on top of the current committed size.
func (v *VirtualBuffer) Grow(extra int) bool {
	return v.SetCommittedSize(v.committed + extra)
}

// Shrink decommits down to n bytes.
func (v *VirtualBuffer) Shrink(n int) bool {
	if n > v.committed {
		return false
	}
	return v.SetCommittedSize(n)
}
