// Package framegraph implements the render pass scheduler and transient
// resource pool spec.md C9 describes: a flat list of declarative passes
// scheduled greedily by resource pre-condition/post-update matching, a
// transient pool keyed by (type, dims, format) with not_alias pinning,
// and the render-item sort-key/priority-table pipeline.
//
// Grounded on the teacher's mod_lifecycle.go/schedule.go stage-ordered
// execution model, generalized to the resource-state scheduling graph
// described in original_source/engine/render/frame_graph.h.
package framegraph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsatisfiable is returned by SubmitStrict when the greedy scheduler
// cannot place every pass; Submit itself never returns an error, instead
// recording a Diagnostic so a caller can choose to skip the frame.
var ErrUnsatisfiable = errors.New("framegraph: pass dependencies are unsatisfiable")

// PassDef is the parsed, declarative form of a Pass — what an (out of
// scope) XML/asset loader would hand the frame graph instead of a
// caller-built Pass literal. NewPass turns one into a schedulable Pass,
// with Execute wired in separately by the caller.
type PassDef struct {
	Name          string
	SubPasses     []string
	PreConditions []Dep
	PostUpdates   []Dep
	PoolRequests  []PoolRequest
}

// NewPass builds a schedulable Pass from a parsed definition.
func NewPass(def PassDef, execute func(ctx *ExecContext)) *Pass {
	return &Pass{
		Name:          def.Name,
		PreConditions: def.PreConditions,
		PostUpdates:   def.PostUpdates,
		PoolRequests:  def.PoolRequests,
		Execute:       execute,
	}
}

// ResourceState tags a resource's lifecycle state, the pre-condition and
// post-update currency every pass declares against.
type ResourceState int

const (
	StateInit ResourceState = iota
	StateRenderTarget
	StateShaderResource
	StateUnorderedAccess
	StateCopySrc
	StateCopyDst
	StatePresent
)

// ResourceRef names one resource a pass reads/writes against, by a
// caller-chosen string key (e.g. "gbuffer.albedo", "shadow.depth").
type ResourceRef string

// Dep is a (resource, state) pair used both as a pre-condition and as a
// post-update.
type Dep struct {
	Resource ResourceRef
	State    ResourceState
}

// PoolRequest declares a transient resource a pass needs allocated at
// entry (and optionally retained across frames via NotAlias).
type PoolRequest struct {
	Name     string // stable key; required when NotAlias is set
	Type     string // e.g. "texture2d", "buffer"
	Width, Height int
	Format   string
	NotAlias bool // force the same pool slot across frames (history buffers)
}

// Pass is one declarative render pass submission.
type Pass struct {
	Name         string
	PreConditions  []Dep
	PostUpdates    []Dep
	PoolRequests   []PoolRequest
	Barriers       []ResourceRef // resources this pass transitions, beyond pre/post pairs
	Execute        func(ctx *ExecContext)
}

// ExecContext is handed to a pass's Execute callback.
type ExecContext struct {
	Pass      *Pass
	Resources map[ResourceRef]ResourceState
	Pool      *Pool
}

// Graph is the flat ordered list of passes submitted for one frame.
type Graph struct {
	passes    []*Pass
	resources map[ResourceRef]ResourceState
	pool      *Pool
	log       []string
}

func NewGraph(pool *Pool) *Graph {
	return &Graph{resources: make(map[ResourceRef]ResourceState), pool: pool}
}

func (g *Graph) AddPass(p *Pass) {
	g.passes = append(g.passes, p)
}

// stateOf returns a resource's current tag, defaulting to Init for
// anything not yet touched this frame (spec.md §4.9 "At submit,
// resources are tagged Init").
func (g *Graph) stateOf(r ResourceRef) ResourceState {
	if s, ok := g.resources[r]; ok {
		return s
	}
	return StateInit
}

func (g *Graph) satisfied(p *Pass) bool {
	for _, d := range p.PreConditions {
		if g.stateOf(d.Resource) != d.State {
			return false
		}
	}
	return true
}

// ScheduleResult is the outcome of a Submit: the names of the passes that
// ran, in order, plus, when the graph got stuck, a diagnostic describing
// why.
type ScheduleResult struct {
	Order      []string
	Diagnostic string
}

// Submit greedily schedules passes, applying each scheduled pass's
// post-updates before looking for the next eligible one (spec.md §4.9
// "Scheduling"). If no remaining pass is eligible, it stops and returns
// the passes run so far together with a diagnostic instead of panicking.
// Passes scheduled before the stall have already executed and are not
// undone; the remaining passes do not run.
func (g *Graph) Submit() ScheduleResult {
	remaining := append([]*Pass(nil), g.passes...)
	var order []string

	for len(remaining) > 0 {
		pickedIdx := -1
		for i, p := range remaining {
			if g.satisfied(p) {
				pickedIdx = i
				break
			}
		}
		if pickedIdx < 0 {
			return ScheduleResult{Order: order, Diagnostic: g.diagnose(remaining)}
		}

		p := remaining[pickedIdx]
		for _, req := range p.PoolRequests {
			g.pool.Acquire(req)
		}
		if p.Execute != nil {
			p.Execute(&ExecContext{Pass: p, Resources: g.resources, Pool: g.pool})
		}
		for _, d := range p.PostUpdates {
			g.resources[d.Resource] = d.State
		}
		order = append(order, p.Name)
		remaining = append(remaining[:pickedIdx], remaining[pickedIdx+1:]...)
	}
	return ScheduleResult{Order: order}
}

// SubmitStrict is Submit for callers that want a Go error instead of
// inspecting Diagnostic, e.g. a caller that must abort process startup if
// its static pass graph can never be satisfied.
func (g *Graph) SubmitStrict() (ScheduleResult, error) {
	result := g.Submit()
	if result.Diagnostic != "" {
		return result, ErrUnsatisfiable
	}
	return result, nil
}

// diagnose lists, for every still-unscheduled pass, its unmet
// dependencies and the current resource states (spec.md §4.9).
func (g *Graph) diagnose(remaining []*Pass) string {
	out := "frame graph stuck: no eligible pass\n"
	for _, p := range remaining {
		out += fmt.Sprintf("  pass %q unmet:", p.Name)
		for _, d := range p.PreConditions {
			if g.stateOf(d.Resource) != d.State {
				out += fmt.Sprintf(" %s(want=%d,have=%d)", d.Resource, d.State, g.stateOf(d.Resource))
			}
		}
		out += "\n"
	}
	return out
}

// poolSlot is one backing allocation in the transient pool.
type poolSlot struct {
	req       PoolRequest
	idleFrames int
	inUse     bool
}

// Pool is the transient resource pool: matches requests against existing
// slots by (type, dims, format), pinning not_alias slots by name across
// frames, and evicting backing resources idle for idleEvictFrames or
// more (spec.md §4.9 "Transient pool").
type Pool struct {
	slots             []*poolSlot
	idleEvictFrames   int
}

func NewPool(idleEvictFrames int) *Pool {
	if idleEvictFrames < 2 {
		idleEvictFrames = 2
	}
	return &Pool{idleEvictFrames: idleEvictFrames}
}

func matches(a, b PoolRequest) bool {
	return a.Type == b.Type && a.Width == b.Width && a.Height == b.Height && a.Format == b.Format
}

// Acquire returns an existing matching slot (preferring a not_alias
// pinned slot of the same name) or allocates a new one.
func (p *Pool) Acquire(req PoolRequest) *poolSlot {
	if req.NotAlias {
		for _, s := range p.slots {
			if s.req.NotAlias && s.req.Name == req.Name {
				s.inUse = true
				s.idleFrames = 0
				return s
			}
		}
	}
	for _, s := range p.slots {
		if !s.inUse && matches(s.req, req) && s.req.NotAlias == req.NotAlias {
			s.req = req
			s.inUse = true
			s.idleFrames = 0
			return s
		}
	}
	s := &poolSlot{req: req, inUse: true}
	p.slots = append(p.slots, s)
	return s
}

// EndFrame releases every in-use slot back to the free pool and ages
// idle slots, evicting (dropping) any that have been idle for
// idleEvictFrames or more frames.
func (p *Pool) EndFrame() {
	kept := p.slots[:0]
	for _, s := range p.slots {
		if s.inUse {
			s.inUse = false
			s.idleFrames = 0
		} else {
			s.idleFrames++
		}
		if s.idleFrames < p.idleEvictFrames {
			kept = append(kept, s)
		}
	}
	p.slots = kept
}

func (p *Pool) NumSlots() int { return len(p.slots) }

// RenderItem is one draw/dispatch submitted by a worker thread, carrying
// a packed sort key (priority:8, sort_key:24) and a 32-bit data payload
// (spec.md §4.9 "Render items").
type RenderItem struct {
	Priority uint8
	SortKey  uint32 // low 24 bits significant
	Data     uint32
}

func (r RenderItem) packedKey() uint32 {
	return uint32(r.Priority)<<24 | (r.SortKey & 0x00FFFFFF)
}

// PriorityRange is the [first,last) slice bounds for one priority level
// within a sorted render item list.
type PriorityRange struct {
	First, Last int
}

// sortThreshold is the item count above which per-worker buckets are
// sorted independently and merged, instead of a single combined sort
// (spec.md §4.9).
const sortThreshold = 4096

// SortRenderItems sorts items (single-threaded below sortThreshold, a
// per-bucket sort + k-way merge above it) and builds the priority table
// mapping priority -> [first,last) slice bounds.
func SortRenderItems(perWorker [][]RenderItem) ([]RenderItem, [256]PriorityRange) {
	total := 0
	for _, w := range perWorker {
		total += len(w)
	}

	var merged []RenderItem
	if total <= sortThreshold {
		merged = make([]RenderItem, 0, total)
		for _, w := range perWorker {
			merged = append(merged, w...)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].packedKey() < merged[j].packedKey() })
	} else {
		buckets := make([][]RenderItem, len(perWorker))
		for i, w := range perWorker {
			b := append([]RenderItem(nil), w...)
			sort.Slice(b, func(x, y int) bool { return b[x].packedKey() < b[y].packedKey() })
			buckets[i] = b
		}
		merged = kWayMerge(buckets)
	}

	var table [256]PriorityRange
	for i := range table {
		table[i] = PriorityRange{First: -1, Last: -1}
	}
	for i, item := range merged {
		pr := &table[item.Priority]
		if pr.First < 0 {
			pr.First = i
		}
		pr.Last = i + 1
	}
	return merged, table
}

// kWayMerge merges already-sorted buckets by packed key.
func kWayMerge(buckets [][]RenderItem) []RenderItem {
	total := 0
	idx := make([]int, len(buckets))
	for _, b := range buckets {
		total += len(b)
	}
	out := make([]RenderItem, 0, total)
	for {
		best := -1
		var bestKey uint32
		for bi, b := range buckets {
			if idx[bi] >= len(b) {
				continue
			}
			k := b[idx[bi]].packedKey()
			if best < 0 || k < bestKey {
				best = bi
				bestKey = k
			}
		}
		if best < 0 {
			break
		}
		out = append(out, buckets[best][idx[best]])
		idx[best]++
	}
	return out
}

// DrawRenderItems returns the slice of items at the given priority,
// using the priority table instead of re-scanning the sorted list.
func DrawRenderItems(items []RenderItem, table [256]PriorityRange, priority uint8) []RenderItem {
	r := table[priority]
	if r.First < 0 {
		return nil
	}
	return items[r.First:r.Last]
}
