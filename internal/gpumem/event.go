package gpumem

import "sync"

// DeallocEvent is suspension point (3) from spec.md §5: the GPU-memory
// deallocator waits on this event when its deferred-delete ring is full
// and nothing is yet eligible for release, waking whenever the device
// reports a new completed frame.
type DeallocEvent struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64
}

func NewDeallocEvent() *DeallocEvent {
	e := &DeallocEvent{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Notify wakes every waiter; called after Device.Signal advances the
// completed-frame counter.
func (e *DeallocEvent) Notify() {
	e.mu.Lock()
	e.gen++
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Wait blocks until at least one Notify has occurred since the last Wait
// observed by this caller's lastSeen, returning the new generation.
func (e *DeallocEvent) Wait(lastSeen uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.gen == lastSeen {
		e.cond.Wait()
	}
	return e.gen
}
