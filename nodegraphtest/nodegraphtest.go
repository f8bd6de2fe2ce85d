/*
Package nodegraphtest provides a conformance suite for [nodegraph.NodeGraph]
behaviour, expressed once and exercised both by this module's own tests and
by downstream consumers building an alternative [nodegraph.NodeEvaluator].

Call Run in its own test to invoke the suite:

	func TestNodeGraph(t *testing.T) {
		nodegraphtest.Run(t, func() nodegraph.NodeEvaluator {
			return nodegraph.NodeEvaluatorFunc(func(ctx context.Context, ec nodegraph.EvaluationContext) (nodegraph.CachePayload, error) {
				return ec.Node, nil
			})
		})
	}

Each subtest builds its own fresh graph via newEvaluator, so test-cases do
not interfere with each other's state; this differs from the teacher's
enginetest.Run, whose cases run in strict sequence against one shared
engine, because these scenarios each need a distinct graph shape rather
than a continuation of the previous one.
*/
package nodegraphtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/opgraph/incremental"
)

// Run executes the six concrete scenarios from this engine's testable
// properties against a freshly built NodeGraph per scenario, using
// newEvaluator to supply the NodeEvaluator each time.
func Run(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator) {
	t.Helper()

	t.Run("linear chain incremental", func(t *testing.T) { testLinearChainIncremental(t, newEvaluator) })
	t.Run("disconnected components", func(t *testing.T) { testDisconnectedComponents(t, newEvaluator) })
	t.Run("cycle rejection", func(t *testing.T) { testCycleRejection(t, newEvaluator) })
	t.Run("LRU eviction", func(t *testing.T) { testLRUEviction(t, newEvaluator) })
	t.Run("diamond propagation", func(t *testing.T) { testDiamondPropagation(t, newEvaluator) })
	t.Run("cancellation mid-evaluation", func(t *testing.T) { testCancellationMidEvaluation(t, newEvaluator) })
}

func newGraph(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator, memoryLimit int) *nodegraph.NodeGraph {
	t.Helper()
	g, err := nodegraph.New(newEvaluator(), memoryLimit)
	if err != nil {
		t.Fatalf("nodegraph.New: %v", err)
	}
	return g
}

func nodeChain(t *testing.T, g *nodegraph.NodeGraph, n int) []nodegraph.NodeId {
	t.Helper()
	ids := make([]nodegraph.NodeId, n)
	for i := range ids {
		ids[i] = nodegraph.NodeId(intName(i))
		if err := g.AddNode(ids[i]); err != nil {
			t.Fatalf("AddNode(%s): %v", ids[i], err)
		}
	}
	for i := 0; i < n-1; i++ {
		if err := g.AddDependency(ids[i], ids[i+1]); err != nil {
			t.Fatalf("AddDependency(%s, %s): %v", ids[i], ids[i+1], err)
		}
	}
	return ids
}

func intName(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "n0"
	}
	buf := make([]byte, 0, 4)
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return "n" + string(buf)
}

func testLinearChainIncremental(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator) {
	g := newGraph(t, newEvaluator, nodegraph.DefaultMemoryLimit)
	ids := nodeChain(t, g, 100)

	result, err := g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	if !result.Success {
		t.Fatalf("first Evaluate: Success = false")
	}
	if len(result.VisitedNodes) != 100 {
		t.Fatalf("first Evaluate: len(VisitedNodes) = %d, want 100", len(result.VisitedNodes))
	}

	if err := g.UpdateParameter(context.Background(), "n50", "v", 1); err != nil {
		t.Fatalf("UpdateParameter(n50): %v", err)
	}
	if got := g.DirtyNodeCount(); got != 50 {
		t.Errorf("DirtyNodeCount() = %d, want 50", got)
	}

	result, err = g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if len(result.VisitedNodes) != 50 {
		t.Fatalf("second Evaluate: len(VisitedNodes) = %d, want 50", len(result.VisitedNodes))
	}
	for i, id := range ids[50:] {
		if result.VisitedNodes[i] != id {
			t.Errorf("VisitedNodes[%d] = %s, want %s (ascending index order)", i, result.VisitedNodes[i], id)
		}
	}
}

func testDisconnectedComponents(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator) {
	g := newGraph(t, newEvaluator, nodegraph.DefaultMemoryLimit)
	ids := []nodegraph.NodeId{"n0", "n1", "n2", "n3", "n4", "n5"}
	for _, id := range ids {
		if err := g.AddNode(id); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	edges := [][2]nodegraph.NodeId{{"n0", "n1"}, {"n1", "n2"}, {"n3", "n4"}, {"n4", "n5"}}
	for _, e := range edges {
		if err := g.AddDependency(e[0], e[1]); err != nil {
			t.Fatalf("AddDependency(%s, %s): %v", e[0], e[1], err)
		}
	}

	if _, err := g.Evaluate(context.Background()); err != nil {
		t.Fatalf("initial Evaluate: %v", err)
	}
	if err := g.UpdateParameter(context.Background(), "n0", "v", 1); err != nil {
		t.Fatalf("UpdateParameter(n0): %v", err)
	}

	result, err := g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []nodegraph.NodeId{"n0", "n1", "n2"}
	if len(result.VisitedNodes) != len(want) {
		t.Fatalf("VisitedNodes = %v, want %v", result.VisitedNodes, want)
	}
	for i := range want {
		if result.VisitedNodes[i] != want[i] {
			t.Errorf("VisitedNodes[%d] = %s, want %s", i, result.VisitedNodes[i], want[i])
		}
	}
}

func testCycleRejection(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator) {
	g := newGraph(t, newEvaluator, nodegraph.DefaultMemoryLimit)
	for _, id := range []nodegraph.NodeId{"n0", "n1", "n2"} {
		if err := g.AddNode(id); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	if err := g.AddDependency("n0", "n1"); err != nil {
		t.Fatalf("AddDependency(n0, n1): %v", err)
	}
	if err := g.AddDependency("n1", "n2"); err != nil {
		t.Fatalf("AddDependency(n1, n2): %v", err)
	}

	if err := g.AddDependency("n2", "n0"); err == nil {
		t.Fatalf("AddDependency(n2, n0) succeeded, want CycleDetected")
	}
	if g.HasDependency("n2", "n0") {
		t.Errorf("HasDependency(n2, n0) = true after rejected cycle")
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	want := []nodegraph.NodeId{"n0", "n1", "n2"}
	if len(order) != len(want) {
		t.Fatalf("TopologicalOrder = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("TopologicalOrder[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func testLRUEviction(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator) {
	// The scenario is phrased in terms of the Cache's own primitives
	// (store/retrieve/has), not the facade, since cache capacity is a
	// property of the Cache component alone.
	c, err := nodegraph.NewCache(2048)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if err := c.Store("n1", nodegraph.DefaultSubKey, sizedPayload{n: 1024}); err != nil {
		t.Fatalf("Store(n1): %v", err)
	}
	if err := c.Store("n2", nodegraph.DefaultSubKey, sizedPayload{n: 1024}); err != nil {
		t.Fatalf("Store(n2): %v", err)
	}
	if _, ok := c.Retrieve("n1", nodegraph.DefaultSubKey); !ok {
		t.Fatalf("Retrieve(n1) = false, want true")
	}
	if err := c.Store("n3", nodegraph.DefaultSubKey, sizedPayload{n: 1024}); err != nil {
		t.Fatalf("Store(n3): %v", err)
	}

	if !c.Has("n1", nodegraph.DefaultSubKey) {
		t.Errorf("Has(n1) = false, want true (recently retrieved)")
	}
	if c.Has("n2", nodegraph.DefaultSubKey) {
		t.Errorf("Has(n2) = true, want false (least recently used, should be evicted)")
	}
	if !c.Has("n3", nodegraph.DefaultSubKey) {
		t.Errorf("Has(n3) = false, want true")
	}
	if stats := c.Statistics(); stats.MemoryUsage > 2048 {
		t.Errorf("MemoryUsage = %d, want <= 2048", stats.MemoryUsage)
	}
}

func testDiamondPropagation(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator) {
	g := newGraph(t, newEvaluator, nodegraph.DefaultMemoryLimit)
	for _, id := range []nodegraph.NodeId{"A", "B", "C", "D"} {
		if err := g.AddNode(id); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	edges := [][2]nodegraph.NodeId{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}}
	for _, e := range edges {
		if err := g.AddDependency(e[0], e[1]); err != nil {
			t.Fatalf("AddDependency(%s, %s): %v", e[0], e[1], err)
		}
	}

	if _, err := g.Evaluate(context.Background()); err != nil {
		t.Fatalf("initial Evaluate: %v", err)
	}
	if err := g.UpdateParameter(context.Background(), "A", "v", 1); err != nil {
		t.Fatalf("UpdateParameter(A): %v", err)
	}

	result, err := g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.VisitedNodes) != 4 {
		t.Fatalf("VisitedNodes = %v, want 4 nodes", result.VisitedNodes)
	}
	if result.VisitedNodes[0] != "A" {
		t.Errorf("VisitedNodes[0] = %s, want A", result.VisitedNodes[0])
	}
	if last := result.VisitedNodes[len(result.VisitedNodes)-1]; last != "D" {
		t.Errorf("last visited = %s, want D", last)
	}
	middle := result.VisitedNodes[1:3]
	wantMiddle := []nodegraph.NodeId{"B", "C"}
	less := func(a, b nodegraph.NodeId) bool { return a < b }
	if diff := cmp.Diff(wantMiddle, middle, cmpopts.SortSlices(less)); diff != "" {
		t.Errorf("middle of VisitedNodes mismatch, want {B, C} in either order (-want +got):\n%s", diff)
	}
}

func testCancellationMidEvaluation(t *testing.T, newEvaluator func() nodegraph.NodeEvaluator) {
	g := newGraph(t, newEvaluator, nodegraph.DefaultMemoryLimit)
	nodeChain(t, g, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := g.Evaluate(ctx)
	if err == nil {
		t.Fatalf("Evaluate with expiring context succeeded, want Cancelled")
	}
	if !errors.Is(err, nodegraph.ErrCancelled) {
		t.Fatalf("Evaluate error = %v, want Cancelled", err)
	}
	if len(result.VisitedNodes) == 0 || len(result.VisitedNodes) >= 1000 {
		t.Fatalf("len(VisitedNodes) = %d, want at least 1 and fewer than 1000", len(result.VisitedNodes))
	}

	result, err = g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("follow-up Evaluate: %v", err)
	}
	if !result.Success {
		t.Fatalf("follow-up Evaluate: Success = false")
	}
	if g.DirtyNodeCount() != 0 {
		t.Errorf("DirtyNodeCount() = %d after follow-up Evaluate, want 0", g.DirtyNodeCount())
	}
}

// sizedPayload is a minimal Sized CachePayload for the eviction scenario,
// which cares only about controlling a stored value's reported size.
type sizedPayload struct{ n int }

func (p sizedPayload) Size() int { return p.n }
