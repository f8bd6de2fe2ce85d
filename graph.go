package nodegraph

import (
	"container/heap"
	"sort"
	"sync"
)

// DependencyGraph maintains the DAG of node ids and edges backing a
// [NodeGraph]: cycle detection at insertion time, topological sort,
// immediate dependencies/dependents, and forward reachability.
//
// Nodes and edges are indexed internally by small integers (see the arena
// field below) rather than by re-hashing NodeId strings on every edge walk,
// which keeps large, highly-connected graphs cheap to mutate and query.
//
// A DependencyGraph is safe for concurrent use: structural mutations
// (add/remove node, add/remove dependency) are serialised against each
// other and against readers; pure queries (contains, dependencies,
// topological order, ...) may run concurrently with one another.
type DependencyGraph struct {
	mu sync.RWMutex

	index map[NodeId]int // NodeId -> arena slot; entry deleted once freed
	arena []node         // dense-ish; freed slots are tombstoned (id == "")
	free  []int          // recycled arena slots
}

type node struct {
	id   NodeId
	out  map[int]struct{} // dependents: nodes that depend on this one
	in   map[int]struct{} // dependencies: nodes this one depends on
}

// NewDependencyGraph returns an empty graph ready for use.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{index: make(map[NodeId]int)}
}

// AddNode inserts id with empty in- and out-neighbour sets.
func (g *DependencyGraph) AddNode(id NodeId) error {
	if blank(string(id)) {
		return newError(InvalidArgument, "node id is empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[id]; ok {
		return newNodeError(AlreadyExists, id, "node already exists")
	}
	g.insertLocked(id)
	return nil
}

func (g *DependencyGraph) insertLocked(id NodeId) int {
	n := node{id: id, out: make(map[int]struct{}), in: make(map[int]struct{})}
	var slot int
	if k := len(g.free); k > 0 {
		slot = g.free[k-1]
		g.free = g.free[:k-1]
		g.arena[slot] = n
	} else {
		slot = len(g.arena)
		g.arena = append(g.arena, n)
	}
	g.index[id] = slot
	return slot
}

// RemoveNode removes id along with every edge incident to it.
func (g *DependencyGraph) RemoveNode(id NodeId) error {
	if blank(string(id)) {
		return newError(InvalidArgument, "node id is empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.index[id]
	if !ok {
		return newNodeError(NotFound, id, "node not found")
	}
	n := g.arena[slot]
	for to := range n.out {
		delete(g.arena[to].in, slot)
	}
	for from := range n.in {
		delete(g.arena[from].out, slot)
	}
	delete(g.index, id)
	g.arena[slot] = node{}
	g.free = append(g.free, slot)
	return nil
}

// AddDependency records the edge (from, to): from provides input to to,
// equivalently to depends on from. On success, to is recorded as a
// dependent of from and from as a dependency of to.
func (g *DependencyGraph) AddDependency(from, to NodeId) error {
	if blank(string(from)) || blank(string(to)) {
		return newError(InvalidArgument, "edge endpoint id is empty")
	}
	if from == to {
		return newNodeError(InvalidArgument, from, "self-loop is not permitted")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	fromSlot, ok := g.index[from]
	if !ok {
		return newNodeError(NotFound, from, "node not found")
	}
	toSlot, ok := g.index[to]
	if !ok {
		return newNodeError(NotFound, to, "node not found")
	}
	if _, ok := g.arena[fromSlot].out[toSlot]; ok {
		return newErrorf(AlreadyExists, "dependency %s -> %s already exists", from, to)
	}
	// Cycle check: a forward DFS from `to` that finds `from` means the new
	// edge from->to would close a cycle.
	if g.reachableLocked(toSlot, fromSlot) {
		return newErrorf(CycleDetected, "adding %s -> %s would create a cycle", from, to)
	}
	g.arena[fromSlot].out[toSlot] = struct{}{}
	g.arena[toSlot].in[fromSlot] = struct{}{}
	return nil
}

// RemoveDependency removes the edge (from, to).
func (g *DependencyGraph) RemoveDependency(from, to NodeId) error {
	if blank(string(from)) || blank(string(to)) {
		return newError(InvalidArgument, "edge endpoint id is empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	fromSlot, ok := g.index[from]
	if !ok {
		return newErrorf(NotFound, "dependency %s -> %s not found", from, to)
	}
	toSlot, ok := g.index[to]
	if !ok {
		return newErrorf(NotFound, "dependency %s -> %s not found", from, to)
	}
	if _, ok := g.arena[fromSlot].out[toSlot]; !ok {
		return newErrorf(NotFound, "dependency %s -> %s not found", from, to)
	}
	delete(g.arena[fromSlot].out, toSlot)
	delete(g.arena[toSlot].in, fromSlot)
	return nil
}

// reachableLocked reports whether to is forward-reachable from "from"
// (i.e. there is a path from -> ... -> to following out-edges). Callers
// must hold g.mu.
func (g *DependencyGraph) reachableLocked(from, to int) bool {
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
		for next := range g.arena[cur].out {
			stack = append(stack, next)
		}
	}
	return false
}

// ContainsNode reports whether id is present in the graph.
func (g *DependencyGraph) ContainsNode(id NodeId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// HasDependency reports whether the edge (from, to) is present.
func (g *DependencyGraph) HasDependency(from, to NodeId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fromSlot, ok := g.index[from]
	if !ok {
		return false
	}
	toSlot, ok := g.index[to]
	if !ok {
		return false
	}
	_, ok = g.arena[fromSlot].out[toSlot]
	return ok
}

// NodeCount returns the number of nodes currently stored.
func (g *DependencyGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.index)
}

// Dependencies returns the immediate in-neighbours of id (the nodes id
// depends on). Order is unspecified but stable for a given graph state.
func (g *DependencyGraph) Dependencies(id NodeId) ([]NodeId, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slot, ok := g.index[id]
	if !ok {
		return nil, newNodeError(NotFound, id, "node not found")
	}
	return g.neighbourIdsLocked(g.arena[slot].in), nil
}

// Dependents returns the immediate out-neighbours of id (the nodes that
// depend on id).
func (g *DependencyGraph) Dependents(id NodeId) ([]NodeId, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slot, ok := g.index[id]
	if !ok {
		return nil, newNodeError(NotFound, id, "node not found")
	}
	return g.neighbourIdsLocked(g.arena[slot].out), nil
}

func (g *DependencyGraph) neighbourIdsLocked(slots map[int]struct{}) []NodeId {
	ids := make([]NodeId, 0, len(slots))
	for slot := range slots {
		ids = append(ids, g.arena[slot].id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Affected returns {id} union forward_reachable(id): the node itself plus
// every node downstream of it.
func (g *DependencyGraph) Affected(id NodeId) ([]NodeId, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slot, ok := g.index[id]
	if !ok {
		return nil, newNodeError(NotFound, id, "node not found")
	}
	visited := map[int]struct{}{slot: {}}
	stack := []int{slot}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.arena[cur].out {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return g.neighbourIdsLocked(visited), nil
}

// idHeap is a min-heap of NodeIds ordered lexicographically, used by
// TopologicalOrder to break ties deterministically regardless of insertion
// history.
type idHeap []NodeId

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)         { *h = append(*h, x.(NodeId)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// TopologicalOrder returns a sequence of all node ids such that for every
// edge (u, v), u precedes v. Ties are broken by NodeId lexicographic order
// using Kahn's algorithm with a priority queue, so the result is stable and
// reproducible regardless of insertion history.
//
// TopologicalOrder fails with [InvalidState] if a cycle is present; since
// AddDependency rejects cycles at insertion time, this is only reachable if
// the graph's invariants were bypassed.
func (g *DependencyGraph) TopologicalOrder() ([]NodeId, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	order, err := g.topologicalOrderLocked(nil)
	return order, err
}

// topologicalOrderLocked computes a topological order. If restrict is
// non-nil, only those node ids (and edges between them) participate; this
// is how [TopologicalEvaluator] restricts the sort to the affected
// sub-DAG. Callers must hold at least g.mu.RLock().
func (g *DependencyGraph) topologicalOrderLocked(restrict map[int]struct{}) ([]NodeId, error) {
	indeg := make(map[int]int, len(g.index))
	var slots []int
	if restrict != nil {
		slots = make([]int, 0, len(restrict))
		for s := range restrict {
			slots = append(slots, s)
		}
	} else {
		slots = make([]int, 0, len(g.index))
		for _, s := range g.index {
			slots = append(slots, s)
		}
	}
	inSet := func(s int) bool {
		if restrict == nil {
			return true
		}
		_, ok := restrict[s]
		return ok
	}
	for _, s := range slots {
		count := 0
		for from := range g.arena[s].in {
			if inSet(from) {
				count++
			}
		}
		indeg[s] = count
	}

	h := make(idHeap, 0, len(slots))
	for _, s := range slots {
		if indeg[s] == 0 {
			h = append(h, g.arena[s].id)
		}
	}
	heap.Init(&h)

	order := make([]NodeId, 0, len(slots))
	for h.Len() > 0 {
		id := heap.Pop(&h).(NodeId)
		slot := g.index[id]
		order = append(order, id)
		for next := range g.arena[slot].out {
			if !inSet(next) {
				continue
			}
			indeg[next]--
			if indeg[next] == 0 {
				heap.Push(&h, g.arena[next].id)
			}
		}
	}

	if len(order) != len(slots) {
		return nil, newError(InvalidState, "topological sort found a cycle despite acyclicity invariant")
	}
	return order, nil
}
