/*
Package nodegraph provides the incremental evaluation core of a node-based
authoring tool: a dependency graph over opaque node identifiers, a
memory-bounded LRU cache for their evaluated outputs, a dirty-flag tracker
that propagates invalidation along dependency edges, a topological
evaluator that re-computes only what changed, and a performance monitor,
composed behind a single [NodeGraph] facade.

A caller owns a [NodeGraph] and drives it through an edit-and-evaluate
cycle: mutate a node's parameter, then call [NodeGraph.Evaluate]. Only the
nodes reachable from the mutation are re-computed; everything else is
served from cache. The package does not know how to evaluate a node — that
is the responsibility of a caller-supplied [NodeEvaluator] — and it does
not persist anything across process lifetimes.
*/
package nodegraph
