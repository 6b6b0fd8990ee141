package sim

import (
	"sync"

	"github.com/boxcity/boxcity/internal/display"
	"github.com/boxcity/boxcity/internal/framegraph"
	"github.com/boxcity/boxcity/internal/jobs"
)

// RenderFrame is the prepared output of one game-thread frame: whatever
// the PreRender/Render stage systems built, handed off to the render
// thread for submission. Concrete payload lives behind the Submit func
// and the Graph it is handed, so sim stays independent of any other
// component's types.
type RenderFrame struct {
	FrameIndex uint64
	Submit     func(device display.Device, graph *framegraph.Graph) framegraph.ScheduleResult
	Graph      *framegraph.Graph
}

// Loop runs the two-thread model spec.md §5 describes: one game thread
// running logic and preparing frames, one render/submit thread draining
// them, synchronized by a single-slot fence so at most one render is in
// flight. Grounded on the teacher's single-threaded App.Run, generalized
// with the render/submit handoff spec.md requires and the teacher's own
// ad hoc background-goroutine pattern in world.go.
type Loop struct {
	device display.Device
	jobs   *jobs.Pool

	mu          sync.Mutex
	cond        *sync.Cond
	pending     *RenderFrame // set by the game thread, cleared by the render thread
	inFlight    bool         // true while the render thread is submitting
	lastSubmitted uint64
	stopped     bool
}

func NewLoop(device display.Device, pool *jobs.Pool) *Loop {
	l := &Loop{device: device, jobs: pool}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Stop signals the render thread to exit after draining any pending
// frame.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// WaitForRenderSlot is suspension point (2) from spec.md §5: before the
// game thread can prepare the next frame, it must observe that the
// previous submit job has completed (at most one render in flight).
func (l *Loop) WaitForRenderSlot() {
	l.mu.Lock()
	for l.inFlight {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// EndPrepare hands a finished frame to the render thread and marks the
// render slot occupied; this is the game thread's `end_prepare` call the
// spec names as the counterpart to the render fence.
func (l *Loop) EndPrepare(frame *RenderFrame) {
	l.mu.Lock()
	l.pending = frame
	l.inFlight = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// RunRenderThread drains prepared frames and submits them until Stop is
// called; intended to run as the single render/submit goroutine.
func (l *Loop) RunRenderThread() {
	for {
		l.mu.Lock()
		for l.pending == nil && !l.stopped {
			l.cond.Wait()
		}
		if l.pending == nil && l.stopped {
			l.mu.Unlock()
			return
		}
		frame := l.pending
		l.pending = nil
		l.mu.Unlock()

		if frame.Submit != nil {
			frame.Submit(l.device, frame.Graph)
		}
		l.device.Signal(frame.FrameIndex)

		l.mu.Lock()
		l.lastSubmitted = frame.FrameIndex
		l.inFlight = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// LastSubmitted reports the highest frame index handed to the device.
func (l *Loop) LastSubmitted() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSubmitted
}

// RunJobs is suspension point (1): fan a batch of jobs onto the bounded
// pool and block until they finish, for parallel component update
// systems (ecs.Process1/2/3 kernels).
func RunJobs(pool *jobs.Pool, n int, fn func(workerIndex, item int)) {
	fence := &jobs.Fence{}
	for i := 0; i < n; i++ {
		item := i
		pool.AddJob(fence, func(workerIndex int) { fn(workerIndex, item) })
	}
	pool.Wait(fence)
}
