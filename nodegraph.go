package nodegraph

import (
	"context"

	"github.com/danielorbach/go-component"
)

// NodeGraph is the public entry point of this package: a facade composing
// a [DependencyGraph], a [Cache], a [DirtyTracker], a [PerformanceMonitor]
// and a [TopologicalEvaluator], preserving the invariants that span them.
//
// A caller owns a NodeGraph exclusively; NodeGraph in turn exclusively owns
// its five components. Whenever an operation here must touch more than one
// component, locks are acquired in the fixed order DependencyGraph <
// DirtyTracker < Cache < PerformanceMonitor to avoid deadlocks; this is
// enforced simply by never calling into a later component while holding an
// earlier one's lock directly (each component manages its own locking
// internally, so NodeGraph only has to order its own calls).
//
// A NodeGraph is safe for concurrent use.
type NodeGraph struct {
	graph     *DependencyGraph
	dirty     *DirtyTracker
	cache     *Cache
	monitor   *PerformanceMonitor
	evaluator *TopologicalEvaluator
}

// New returns a ready-to-use NodeGraph. evaluator is the caller-supplied
// NodeEvaluator invoked for every node this graph re-computes; it must not
// be nil. memoryLimit bounds the Cache, in bytes, and must be positive;
// pass [DefaultMemoryLimit] for an implementation-defined default.
func New(evaluator NodeEvaluator, memoryLimit int) (*NodeGraph, error) {
	cache, err := NewCache(memoryLimit)
	if err != nil {
		return nil, err
	}
	graph := NewDependencyGraph()
	dirty := NewDirtyTracker()
	monitor := NewPerformanceMonitor()

	topo, err := NewTopologicalEvaluator(graph, dirty, cache, evaluator)
	if err != nil {
		return nil, err
	}

	return &NodeGraph{
		graph:     graph,
		dirty:     dirty,
		cache:     cache,
		monitor:   monitor,
		evaluator: topo,
	}, nil
}

// AddNode inserts id into the dependency graph. Any stale cache entries
// under the same id (left by a prior, since-removed node) are defensively
// invalidated, the node starts dirty (it has never been evaluated), and the
// insertion is recorded in the performance monitor as a structural event.
func (ng *NodeGraph) AddNode(id NodeId) error {
	if err := ng.graph.AddNode(id); err != nil {
		return err
	}
	ng.cache.InvalidateNode(id)
	_ = ng.dirty.MarkDirty(id)
	ng.monitor.RecordStructuralEvent()
	return nil
}

// RemoveNode removes id, every edge incident to it, its cache entries, and
// its dirty-tracking state.
func (ng *NodeGraph) RemoveNode(id NodeId) error {
	if err := ng.graph.RemoveNode(id); err != nil {
		return err
	}
	ng.cache.InvalidateNode(id)
	ng.dirty.RemoveNode(id)
	return nil
}

// AddDependency records that to depends on from. On success, every node
// downstream of from (now potentially stale because it gained a new
// upstream dependency) is marked dirty, and the propagation graph mirrored
// by the DirtyTracker is kept aligned with the DependencyGraph. from itself
// is untouched: its own inputs haven't changed, so it stays clean if it
// already was.
func (ng *NodeGraph) AddDependency(from, to NodeId) error {
	if err := ng.graph.AddDependency(from, to); err != nil {
		return err
	}
	if err := ng.dirty.AddDependency(from, to); err != nil {
		// The DependencyGraph and DirtyTracker's propagation graph are
		// meant to stay aligned; if this fails after the DependencyGraph
		// already accepted the edge, undo it rather than leave the two
		// components disagreeing about whether a cycle exists.
		_ = ng.graph.RemoveDependency(from, to)
		return err
	}
	return ng.dirty.InvalidateDependents(from)
}

// RemoveDependency removes the (from, to) edge from both the dependency
// graph and the dirty tracker's propagation graph.
func (ng *NodeGraph) RemoveDependency(from, to NodeId) error {
	if err := ng.graph.RemoveDependency(from, to); err != nil {
		return err
	}
	return ng.dirty.RemoveDependency(from, to)
}

// UpdateParameter signals that a parameter on node n has changed: n and
// every node forward-reachable from it are marked dirty, and the update is
// recorded in the performance monitor. The engine treats parameter values
// as opaque: name is recorded for metrics purposes only, and value is not
// stored.
func (ng *NodeGraph) UpdateParameter(ctx context.Context, n NodeId, name string, value any) error {
	if err := ng.dirty.MarkDirty(n); err != nil {
		return err
	}
	if err := ng.dirty.InvalidateDependents(n); err != nil {
		return err
	}
	return ng.monitor.RecordParameterUpdate(ctx, n, name)
}

// Evaluate re-computes every currently dirty node, in dependency order,
// via the NodeEvaluator supplied to [New]. See [TopologicalEvaluator.Evaluate]
// for the full algorithm and cancellation/failure semantics.
func (ng *NodeGraph) Evaluate(ctx context.Context) (EvaluationResult, error) {
	handle := ng.monitor.BeginEvaluation()
	result, err := ng.evaluator.Evaluate(ctx)

	if accessErr := ng.monitor.RecordCacheAccesses(result.CacheHits, result.CacheMisses); accessErr != nil {
		component.Logger(ctx).WarnContext(ctx, "nodegraph: failed to record cache access metrics", "error", accessErr)
	}

	succeeded := err == nil
	if completeErr := ng.monitor.CompleteEvaluation(ctx, handle, len(result.VisitedNodes), result.ParallelLevel, succeeded); completeErr != nil {
		component.Logger(ctx).WarnContext(ctx, "nodegraph: failed to record evaluation metrics", "error", completeErr)
	}
	return result, err
}

// NodeCount returns the number of nodes currently in the dependency graph.
func (ng *NodeGraph) NodeCount() int {
	return ng.graph.NodeCount()
}

// DirtyNodeCount returns the cardinality of the current dirty set.
func (ng *NodeGraph) DirtyNodeCount() int {
	return ng.dirty.DirtyCount()
}

// CacheStatistics returns a snapshot of the underlying cache's counters.
func (ng *NodeGraph) CacheStatistics() CacheStatistics {
	return ng.cache.Statistics()
}

// Metrics returns a snapshot of the underlying performance monitor's
// aggregate counters.
func (ng *NodeGraph) Metrics() PerformanceMetrics {
	return ng.monitor.Metrics()
}

// Trend reports the recent performance trend; see [PerformanceMonitor.Trend].
func (ng *NodeGraph) Trend() Direction {
	return ng.monitor.Trend()
}

// ContainsNode reports whether id is present in the graph.
func (ng *NodeGraph) ContainsNode(id NodeId) bool {
	return ng.graph.ContainsNode(id)
}

// HasDependency reports whether to depends on from.
func (ng *NodeGraph) HasDependency(from, to NodeId) bool {
	return ng.graph.HasDependency(from, to)
}

// Dependencies returns the immediate nodes id depends on.
func (ng *NodeGraph) Dependencies(id NodeId) ([]NodeId, error) {
	return ng.graph.Dependencies(id)
}

// Dependents returns the immediate nodes that depend on id.
func (ng *NodeGraph) Dependents(id NodeId) ([]NodeId, error) {
	return ng.graph.Dependents(id)
}

// TopologicalOrder returns the current dependency-respecting order of
// every node in the graph.
func (ng *NodeGraph) TopologicalOrder() ([]NodeId, error) {
	return ng.graph.TopologicalOrder()
}
