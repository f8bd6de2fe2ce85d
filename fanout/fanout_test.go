package fanout_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opgraph/incremental"
	"github.com/opgraph/incremental/fanout"
)

func noopEvaluator() nodegraph.NodeEvaluatorFunc {
	return func(ctx context.Context, ec nodegraph.EvaluationContext) (nodegraph.CachePayload, error) {
		return 0, nil
	}
}

func newGraph(t *testing.T, ids ...nodegraph.NodeId) *nodegraph.NodeGraph {
	t.Helper()
	g, err := nodegraph.New(noopEvaluator(), nodegraph.DefaultMemoryLimit)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, id := range ids {
		if err := g.AddNode(id); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	return g
}

func TestOneToOneReplacesPriorEdge(t *testing.T) {
	g := newGraph(t, "source1", "source2", "target1")
	classify := func(id nodegraph.NodeId) fanout.NodeKind {
		if id == "source1" || id == "source2" {
			return "source"
		}
		return "target"
	}
	f := fanout.Graph(g, classify)

	if err := f.OneToOne(context.Background(), "source1", "target1"); err != nil {
		t.Fatalf("OneToOne(source1, target1): %v", err)
	}
	if err := f.OneToOne(context.Background(), "source2", "target1"); err != nil {
		t.Fatalf("OneToOne(source2, target1): %v", err)
	}

	deps, err := g.Dependencies("target1")
	if err != nil {
		t.Fatalf("Dependencies(target1): %v", err)
	}
	want := []nodegraph.NodeId{"source2"}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("Dependencies(target1) mismatch (-want +got):\n%s", diff)
	}
	if g.HasDependency("source1", "target1") {
		t.Error("source1 -> target1 should have been retracted by the second OneToOne")
	}
}

func TestManyToManyKeepsBothEdges(t *testing.T) {
	g := newGraph(t, "a1", "a2", "b1")
	classify := func(id nodegraph.NodeId) fanout.NodeKind { return fanout.NodeKind(id[:1]) }
	f := fanout.Graph(g, classify)

	if err := f.ManyToMany(context.Background(), "a1", "b1"); err != nil {
		t.Fatalf("ManyToMany(a1, b1): %v", err)
	}
	if err := f.ManyToMany(context.Background(), "a2", "b1"); err != nil {
		t.Fatalf("ManyToMany(a2, b1): %v", err)
	}

	deps, err := g.Dependencies("b1")
	if err != nil {
		t.Fatalf("Dependencies(b1): %v", err)
	}
	want := []nodegraph.NodeId{"a1", "a2"}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("Dependencies(b1) mismatch (-want +got):\n%s", diff)
	}
}

func TestOneToManyAllowsMultipleFromSource(t *testing.T) {
	g := newGraph(t, "s1", "t1", "t2")
	classify := func(id nodegraph.NodeId) fanout.NodeKind {
		if id == "s1" {
			return "source"
		}
		return "target"
	}
	f := fanout.Graph(g, classify)

	if err := f.OneToMany(context.Background(), "s1", "t1"); err != nil {
		t.Fatalf("OneToMany(s1, t1): %v", err)
	}
	if err := f.OneToMany(context.Background(), "s1", "t2"); err != nil {
		t.Fatalf("OneToMany(s1, t2): %v", err)
	}

	deps, err := g.Dependents("s1")
	if err != nil {
		t.Fatalf("Dependents(s1): %v", err)
	}
	want := []nodegraph.NodeId{"t1", "t2"}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("Dependents(s1) mismatch (-want +got):\n%s", diff)
	}
}
