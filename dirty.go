package nodegraph

import "sync"

// DirtyTracker records which nodes have dirty (stale) outputs and
// propagates invalidation along a dependency graph it mirrors internally.
// The propagation graph is kept in sync with the real [DependencyGraph] by
// [NodeGraph]; DirtyTracker never reads the DependencyGraph directly so
// that the two can be locked independently.
//
// Like [DependencyGraph], adjacency is stored arena-indexed rather than
// keyed directly by NodeId, and transitive invalidation is performed
// eagerly at invalidation time so evaluation-time work is proportional to
// the size of the dirty set, not the whole graph.
//
// A DirtyTracker is safe for concurrent use.
type DirtyTracker struct {
	mu sync.RWMutex

	dirty map[NodeId]struct{}

	index map[NodeId]int
	arena []dirtyNode
	free  []int
}

type dirtyNode struct {
	id  NodeId
	out map[int]struct{}
}

// NewDirtyTracker returns a tracker with an empty dirty set and an empty
// propagation graph.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{
		dirty: make(map[NodeId]struct{}),
		index: make(map[NodeId]int),
	}
}

// ensureLocked returns the arena slot for id, creating one if id hasn't
// been seen before. Callers must hold d.mu for writing.
func (d *DirtyTracker) ensureLocked(id NodeId) int {
	if slot, ok := d.index[id]; ok {
		return slot
	}
	n := dirtyNode{id: id, out: make(map[int]struct{})}
	var slot int
	if k := len(d.free); k > 0 {
		slot = d.free[k-1]
		d.free = d.free[:k-1]
		d.arena[slot] = n
	} else {
		slot = len(d.arena)
		d.arena = append(d.arena, n)
	}
	d.index[id] = slot
	return slot
}

// MarkDirty inserts id into the dirty set. Repeated calls are idempotent.
func (d *DirtyTracker) MarkDirty(id NodeId) error {
	if blank(string(id)) {
		return newError(InvalidArgument, "node id is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty[id] = struct{}{}
	return nil
}

// MarkClean removes id from the dirty set. It is not an error for id to be
// absent.
func (d *DirtyTracker) MarkClean(id NodeId) error {
	if blank(string(id)) {
		return newError(InvalidArgument, "node id is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dirty, id)
	return nil
}

// IsDirty reports whether id is currently in the dirty set.
func (d *DirtyTracker) IsDirty(id NodeId) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.dirty[id]
	return ok
}

// DirtyCount returns the cardinality of the dirty set.
func (d *DirtyTracker) DirtyCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.dirty)
}

// DirtyNodes returns a snapshot of the dirty set.
func (d *DirtyTracker) DirtyNodes() []NodeId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]NodeId, 0, len(d.dirty))
	for id := range d.dirty {
		out = append(out, id)
	}
	return out
}

// BatchMarkDirty marks every id in ids dirty, atomically with respect to
// observers (it holds the write lock for the whole batch). ids must be
// non-nil, but may be empty or contain ids not previously known.
func (d *DirtyTracker) BatchMarkDirty(ids []NodeId) error {
	if ids == nil {
		return newError(InvalidArgument, "ids collection must not be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.dirty[id] = struct{}{}
	}
	return nil
}

// BatchMarkClean removes every id in ids from the dirty set, atomically.
// ids must be non-nil, but may be empty or contain ids not previously
// known or not currently dirty.
func (d *DirtyTracker) BatchMarkClean(ids []NodeId) error {
	if ids == nil {
		return newError(InvalidArgument, "ids collection must not be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.dirty, id)
	}
	return nil
}

// AddDependency records, in the propagation graph only, that to depends on
// from. Both ids are created in the propagation graph if not already
// present. Mirrors [DependencyGraph.AddDependency]'s cycle rejection so the
// two stay aligned.
func (d *DirtyTracker) AddDependency(from, to NodeId) error {
	if blank(string(from)) || blank(string(to)) {
		return newError(InvalidArgument, "edge endpoint id is empty")
	}
	if from == to {
		return newNodeError(InvalidArgument, from, "self-loop is not permitted")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	fromSlot := d.ensureLocked(from)
	toSlot := d.ensureLocked(to)
	if _, ok := d.arena[fromSlot].out[toSlot]; ok {
		return newErrorf(AlreadyExists, "dependency %s -> %s already exists", from, to)
	}
	if d.reachableLocked(toSlot, fromSlot) {
		return newErrorf(CycleDetected, "adding %s -> %s would create a cycle", from, to)
	}
	d.arena[fromSlot].out[toSlot] = struct{}{}
	return nil
}

// RemoveDependency removes the (from, to) edge from the propagation graph.
func (d *DirtyTracker) RemoveDependency(from, to NodeId) error {
	if blank(string(from)) || blank(string(to)) {
		return newError(InvalidArgument, "edge endpoint id is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fromSlot, ok := d.index[from]
	if !ok {
		return newErrorf(NotFound, "dependency %s -> %s not found", from, to)
	}
	toSlot, ok := d.index[to]
	if !ok {
		return newErrorf(NotFound, "dependency %s -> %s not found", from, to)
	}
	if _, ok := d.arena[fromSlot].out[toSlot]; !ok {
		return newErrorf(NotFound, "dependency %s -> %s not found", from, to)
	}
	delete(d.arena[fromSlot].out, toSlot)
	return nil
}

func (d *DirtyTracker) reachableLocked(from, to int) bool {
	if from == to {
		return true
	}
	visited := make(map[int]struct{})
	stack := []int{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		if cur == to {
			return true
		}
		for next := range d.arena[cur].out {
			stack = append(stack, next)
		}
	}
	return false
}

// InvalidateDependents marks every node forward-reachable from id
// (exclusive of id itself) as dirty. It is a no-op if id is not known to
// the propagation graph.
func (d *DirtyTracker) InvalidateDependents(id NodeId) error {
	if blank(string(id)) {
		return newError(InvalidArgument, "node id is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	slot, ok := d.index[id]
	if !ok {
		return nil
	}
	visited := make(map[int]struct{})
	stack := []int{slot}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range d.arena[cur].out {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			d.dirty[d.arena[next].id] = struct{}{}
			stack = append(stack, next)
		}
	}
	return nil
}

// RemoveNode drops id from both the dirty set and the propagation graph,
// along with every edge incident to it. It is not an error for id to be
// unknown.
func (d *DirtyTracker) RemoveNode(id NodeId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dirty, id)
	slot, ok := d.index[id]
	if !ok {
		return
	}
	// No reverse index is kept for the propagation graph, so dropping
	// incoming edges requires a linear scan over the arena.
	for i := range d.arena {
		delete(d.arena[i].out, slot)
	}
	delete(d.index, id)
	d.arena[slot] = dirtyNode{}
	d.free = append(d.free, slot)
}

// Reset clears the dirty set while preserving the propagation graph.
func (d *DirtyTracker) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = make(map[NodeId]struct{})
}
