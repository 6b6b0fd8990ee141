// Package display declares the external rendering-device boundary from
// spec.md §6: the frame graph and GPU memory packages schedule and stage
// work against this interface, but never construct or own a concrete GPU
// backend. Grounded on the teacher's own narrow treatment of the GPU
// device (webgpu.Device is a single opaque field threaded through
// app.go/mod_lifecycle.go, never modeled as a rich domain type) — the
// same shape is kept here, generalized into an interface so this module
// stays buildable without a windowing/graphics dependency.
package display

// BufferHandle and TextureHandle are opaque device-side resource handles.
// The concrete backend defines what they wrap.
type BufferHandle uint64
type TextureHandle uint64

// BufferDesc and TextureDesc describe a resource to allocate; fields are
// the minimal set the frame graph's transient pool needs to key matches
// on (see framegraph.PoolRequest).
type BufferDesc struct {
	SizeBytes int
	Label     string
}

type TextureDesc struct {
	Width, Height int
	Format        string
	Label         string
}

// CommandList is an opaque recording handle; a Device implementation
// defines its own recording API behind it.
type CommandList interface {
	Close()
}

// Device is the external rendering boundary spec.md §6.2 calls out:
// buffer/texture creation, command list recording, and frame-completion
// fencing. The simulation core depends only on this interface.
type Device interface {
	CreateBuffer(desc BufferDesc) (BufferHandle, error)
	CreateTexture(desc TextureDesc) (TextureHandle, error)
	DestroyBuffer(h BufferHandle)
	DestroyTexture(h TextureHandle)

	OpenCommandList() CommandList
	CloseCommandList(cl CommandList)

	// LastCompletedFrame reports the highest frame index the GPU has
	// finished, the signal handle_pool.GraphicPool and gpumem's deferred
	// frees wait on before reusing a slot.
	LastCompletedFrame() uint64
	// Signal advances the device's completion counter; a real backend
	// calls this from its present/fence-wait loop.
	Signal(frame uint64)
}

// Null is a no-op Device for tests and headless runs of the simulation
// loop, where no GPU backend is wired up.
type Null struct {
	nextHandle  uint64
	completed   uint64
}

func NewNull() *Null { return &Null{} }

func (n *Null) CreateBuffer(desc BufferDesc) (BufferHandle, error) {
	n.nextHandle++
	return BufferHandle(n.nextHandle), nil
}

func (n *Null) CreateTexture(desc TextureDesc) (TextureHandle, error) {
	n.nextHandle++
	return TextureHandle(n.nextHandle), nil
}

func (n *Null) DestroyBuffer(h BufferHandle)   {}
func (n *Null) DestroyTexture(h TextureHandle) {}

type nullCommandList struct{}

func (nullCommandList) Close() {}

func (n *Null) OpenCommandList() CommandList       { return nullCommandList{} }
func (n *Null) CloseCommandList(cl CommandList)    { cl.Close() }
func (n *Null) LastCompletedFrame() uint64         { return n.completed }
func (n *Null) Signal(frame uint64)                { n.completed = frame }
